package storage

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const publicIDBytes = 3 // 6 hex chars

var publicIDRegex = regexp.MustCompile(`^[A-Z0-9]+-[0-9A-F]{6}$`)

// NewPublicID returns a fresh PREFIX-XXXXXX identifier
func NewPublicID(prefix string) (string, error) {
	b := make([]byte, publicIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%s-%X", prefix, b), nil
}

// NormalizePublicID uppercases and trims a public id typed by a human
func NormalizePublicID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsPublicID reports whether s looks like a public id (any case)
func IsPublicID(s string) bool {
	return publicIDRegex.MatchString(NormalizePublicID(s))
}
