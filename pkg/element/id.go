// Package element models calibration elements: their canonical identifiers,
// the definitions supplied by calibrators, and the registry the matcher
// resolves slide references against.
package element

import (
	"regexp"
	"strconv"
	"strings"
)

// ID is the canonical string form of an element identifier, e.g. "2.1",
// "2.1A" or "9.4.1". Registry keys and reference comparisons use it.
type ID string

var (
	// integerBody matches a bare major number such as "2".
	integerBody = regexp.MustCompile(`^\d+$`)
	// zeroFraction matches a whole number written with zeros, "2.0" or "2.00".
	zeroFraction = regexp.MustCompile(`^(\d+)\.0+$`)
	// numericPrefix matches the leading major[.minor] portion used for sorting.
	numericPrefix = regexp.MustCompile(`^\d+(?:\.\d+)?`)
)

// NormalizeID converts a raw identifier into its canonical form.
//
// A trailing run of letters is upper-cased. A whole number gains or is
// reduced to a single ".0", so "2", "2.0" and "2.00" share a key. Any other
// major.minor pair is kept verbatim, which keeps "2.10" apart from "2.1".
// Anything with more than one dot is an opaque hierarchical id. The second
// return value is false when raw is blank.
//
// NormalizeID is idempotent.
func NormalizeID(raw string) (ID, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	body, suffix := splitSuffix(trimmed)
	suffix = strings.ToUpper(suffix)

	switch {
	case integerBody.MatchString(body):
		body += ".0"
	case zeroFraction.MatchString(body):
		body = zeroFraction.ReplaceAllString(body, "$1.0")
	}

	return ID(body + suffix), true
}

// splitSuffix separates a trailing run of ASCII letters from the rest of s.
func splitSuffix(s string) (body, suffix string) {
	end := len(s)
	for end > 0 && isASCIILetter(s[end-1]) {
		end--
	}
	return s[:end], s[end:]
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// StripSuffix removes a trailing run of letters, turning "2.1A" into "2.1".
func (id ID) StripSuffix() ID {
	body, _ := splitSuffix(string(id))
	return ID(body)
}

// Major returns the leading integer segment, or "" when the id has none.
func (id ID) Major() string {
	s := string(id)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

func (id ID) String() string { return string(id) }

// SortKey returns the numeric value used to order ids. Letter suffixes are
// ignored and hierarchical ids reduce to their leading major.minor prefix.
// Ids without a numeric prefix sort as 0.
func SortKey(id ID) float64 {
	body, _ := splitSuffix(string(id))
	prefix := numericPrefix.FindString(body)
	if prefix == "" {
		return 0
	}
	value, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0
	}
	return value
}

// Less orders ids by SortKey, breaking ties by string comparison so the
// order is total.
func Less(a, b ID) bool {
	ka, kb := SortKey(a), SortKey(b)
	if ka != kb {
		return ka < kb
	}
	return a < b
}

// Compare is Less in the three-way form expected by slices.SortFunc.
func Compare(a, b ID) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}
