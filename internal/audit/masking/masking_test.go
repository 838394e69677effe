package masking

import "testing"

func TestMaskSecretKeepsPrefixAndSuffix(t *testing.T) {
	got := MaskSecret("crmk_acme_0123456789abcdef")
	if got != "crmk_acme_****cdef" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskSecret("short"); got != "****" {
		t.Fatalf("expected fully masked short value, got %q", got)
	}
	if got := MaskSecret("  "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestMaskSensitive(t *testing.T) {
	masked := MaskSensitive(map[string]any{
		"email":        "a@acme.com",
		"reset_token":  "abcdefghijklmnop",
		"key_prefix":   "crmk_acme_abcd",
		"nested":       map[string]any{"password": "Passw0rd!"},
		"failed_count": 3,
	})

	if masked["email"] != "a@acme.com" {
		t.Fatalf("email should stay readable, got %v", masked["email"])
	}
	if masked["reset_token"] != "****mnop" {
		t.Fatalf("unexpected reset token mask %v", masked["reset_token"])
	}
	if masked["key_prefix"] != "crmk_acme_abcd" {
		t.Fatalf("key prefix should stay readable, got %v", masked["key_prefix"])
	}
	nested := masked["nested"].(map[string]any)
	if nested["password"] != "****" {
		t.Fatalf("nested password not masked: %v", nested["password"])
	}
	if masked["failed_count"] != 3 {
		t.Fatalf("numbers should pass through, got %v", masked["failed_count"])
	}
}
