// Package sanitize normalizes identifiers that cross a trust boundary: user
// IDs from the API and collection names handed to the vector stores.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxCollectionLength is the longest collection name qdrant and chromem
	// accept.
	MaxCollectionLength = 64

	// hashSuffixLength covers "_" plus eight hex characters.
	hashSuffixLength = 9

	// DefaultCollection is returned when nothing valid is left.
	DefaultCollection = "default"
)

// Collection maps name onto ^[a-z0-9_]{1,64}$. Invalid characters become
// underscores, runs of underscores collapse, and names that are too long are
// truncated with a hash suffix so distinct inputs stay distinct.
//
//	"Coachd Knowledge" -> "coachd_knowledge"
//	"kb/v2-2026"       -> "kb_v2_2026"
//	"" or "!!!"        -> "default"
func Collection(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return DefaultCollection
	}
	if len(s) > MaxCollectionLength {
		s = truncateWithHash(s)
	}
	return s
}

func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	base := strings.TrimRight(s[:MaxCollectionLength-hashSuffixLength], "_")
	return base + suffix
}
