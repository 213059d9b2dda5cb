// Package version compares dotted numeric version strings such as "1.4.2"
// and "1.10.0".
package version

import (
	"strconv"
	"strings"
)

// Compare returns a positive number when a is newer than b, a negative number
// when it is older and 0 when both are equal. Segments are compared left to
// right as integers; a missing or non-numeric segment counts as 0, so "1.4"
// equals "1.4.0".
func Compare(a, b string) int {
	aParts := segments(a)
	bParts := segments(b)
	for len(aParts) < len(bParts) {
		aParts = append(aParts, 0)
	}
	for len(bParts) < len(aParts) {
		bParts = append(bParts, 0)
	}
	for i := range aParts {
		switch {
		case aParts[i] > bParts[i]:
			return 1
		case aParts[i] < bParts[i]:
			return -1
		}
	}
	return 0
}

// Newer reports whether candidate is strictly newer than current.
func Newer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

// AtLeast reports whether v is equal to or newer than minimum. An empty
// minimum is always satisfied.
func AtLeast(v, minimum string) bool {
	if strings.TrimSpace(minimum) == "" {
		return true
	}
	return Compare(v, minimum) >= 0
}

func segments(v string) []int {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	raw := strings.Split(v, ".")
	parts := make([]int, len(raw))
	for i, seg := range raw {
		parts[i] = leadingInt(seg)
	}
	return parts
}

// leadingInt parses the digits at the start of seg, so "2a" is 2 and "rc1"
// is 0.
func leadingInt(seg string) int {
	seg = strings.TrimSpace(seg)
	end := 0
	for end < len(seg) && seg[end] >= '0' && seg[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(seg[:end])
	if err != nil {
		return 0
	}
	return n
}
