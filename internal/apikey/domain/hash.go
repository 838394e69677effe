package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SecretBytes      = 32
	secretHexLength  = SecretBytes * 2
	displaySecretLen = 12
)

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ParsedKey is a raw key split into its parts.
type ParsedKey struct {
	Prefix  string
	OrgSlug string
	Secret  string
}

// ParseKey splits "{prefix}_{slug}_{secret}". Neither the prefix nor an
// organization slug may contain an underscore, so there are exactly three
// parts.
func ParseKey(raw, prefix string) (ParsedKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	if len(parts) != 3 || parts[0] != prefix || parts[1] == "" {
		return ParsedKey{}, ErrMalformedKey
	}
	if len(parts[2]) != secretHexLength || !isLowerHex(parts[2]) {
		return ParsedKey{}, ErrMalformedKey
	}
	return ParsedKey{Prefix: parts[0], OrgSlug: parts[1], Secret: parts[2]}, nil
}

// LooksLikeKey reports whether raw carries the API key prefix. Bearer
// middleware uses it to keep keys and session tokens apart.
func LooksLikeKey(raw, prefix string) bool {
	return prefix != "" && strings.HasPrefix(strings.TrimSpace(raw), prefix+"_")
}

// FormatKey builds the raw key and its display prefix.
func FormatKey(prefix, orgSlug, secret string) (raw string, display string) {
	raw = prefix + "_" + orgSlug + "_" + secret
	display = prefix + "_" + orgSlug + "_" + secret[:displaySecretLen]
	return raw, display
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
