package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/clock"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer(clk clock.Clock) *Issuer {
	return NewIssuer(testSecret, WithClock(clk), WithTTL(24*time.Hour), WithIssuer("crmauth-test"))
}

func testSubject() Subject {
	return Subject{
		UserID: uuid.New(),
		OrgID:  uuid.New(),
		Email:  "a@acme.com",
		Role:   "admin",
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	issuer := newTestIssuer(clk)
	subject := testSubject()

	issued, err := issuer.Issue(subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := clk.Now().Add(24 * time.Hour); !issued.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, issued.ExpiresAt)
	}

	claims, err := issuer.Verify(issued.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != subject.UserID || claims.OrgID != subject.OrgID {
		t.Fatalf("unexpected ids in claims: %+v", claims)
	}
	if claims.Email != subject.Email || claims.Role != subject.Role {
		t.Fatalf("unexpected profile in claims: %+v", claims)
	}
	if claims.ID != issued.ID {
		t.Fatalf("expected jti %s, got %s", issued.ID, claims.ID)
	}
}

func TestTokensIssuedInSameSecondDiffer(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	issuer := newTestIssuer(clk)
	subject := testSubject()

	first, err := issuer.Issue(subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := issuer.Issue(subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first.Token == second.Token {
		t.Fatalf("expected distinct tokens")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	issuer := newTestIssuer(clk)

	issued, err := issuer.Issue(testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clk.Advance(24*time.Hour + time.Second)
	if _, err := issuer.Verify(issued.Token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsAnySignatureBitFlip(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	issuer := newTestIssuer(clk)

	issued, err := issuer.Issue(testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(issued.Token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}

	for i := 0; i < len(sig)*8; i++ {
		flipped := append([]byte(nil), sig...)
		flipped[i/8] ^= 1 << (i % 8)
		tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)
		if _, err := issuer.Verify(tampered); err != ErrInvalidToken {
			t.Fatalf("bit %d: expected ErrInvalidToken, got %v", i, err)
		}
	}
}

func TestVerifyRejectsForeignSecretAndIssuer(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	issuer := newTestIssuer(clk)

	other := NewIssuer([]byte("ffffffffffffffffffffffffffffffff"), WithClock(clk), WithIssuer("crmauth-test"))
	issued, err := other.Issue(testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(issued.Token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	wrongIssuer := NewIssuer(testSecret, WithClock(clk), WithIssuer("someone-else"))
	issued, err = wrongIssuer.Issue(testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(issued.Token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	issuer := newTestIssuer(clk)
	subject := testSubject()

	claims := Claims{
		UserID: subject.UserID,
		OrgID:  subject.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "crmauth-test",
			Subject:   subject.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
			ID:        uuid.NewString(),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := issuer.Verify(unsigned); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(clock.NewFakeClock(time.Now()))
	for _, raw := range []string{"", "   ", "not-a-token", "a.b.c"} {
		if _, err := issuer.Verify(raw); err != ErrInvalidToken {
			t.Fatalf("%q: expected ErrInvalidToken, got %v", raw, err)
		}
	}
}
