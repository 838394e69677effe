package orgcontext

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestOrgIDRoundTrip(t *testing.T) {
	orgID := uuid.New()
	got, ok := OrgIDFromContext(WithOrgID(context.Background(), orgID))
	if !ok || got != orgID {
		t.Fatalf("expected %s, got %s (ok=%v)", orgID, got, ok)
	}
}

func TestOrgIDMissingOrNil(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatalf("expected no org id")
	}
	if _, ok := OrgIDFromContext(WithOrgID(context.Background(), uuid.Nil)); ok {
		t.Fatalf("expected nil org id to be rejected")
	}
}
