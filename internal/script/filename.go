package script

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

const (
	maxFileNameLen = 80
	hashSuffixLen  = 8
)

// FileName turns an invariant name into a base name that is safe on every
// filesystem the tool targets. Names with letters or digits outside ASCII
// lose them in the slug, so a short hash of the full name keeps them apart.
func FileName(invariantName string) string {
	name := strings.TrimSpace(invariantName)
	s := slugRe.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")

	limit := maxFileNameLen
	suffix := ""
	if hasNonASCIIWord(name) {
		sum := sha256.Sum256([]byte(name))
		suffix = hex.EncodeToString(sum[:])[:hashSuffixLen]
		limit -= hashSuffixLen + 1
	}
	if len(s) > limit {
		s = strings.TrimRight(s[:limit], "_")
	}
	if s == "" {
		s = "script"
	}
	if suffix != "" {
		s += "_" + suffix
	}
	return s
}

func hasNonASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsNumber(r)) {
			return true
		}
	}
	return false
}
