package config

import (
	"regexp"
	"strings"
)

var (
	validNumberRe = regexp.MustCompile(`^[1-9][0-9]{7,14}$`)
	nonDigits     = regexp.MustCompile(`[^0-9]+`)
)

// NormalizeNumber converts a user-typed WhatsApp number into the digits-only
// international form the backend stores:
//   - Strips spaces, dashes, parentheses and a leading "+"
//   - "00" international prefix is dropped
//   - Returns "" when the remainder is not a plausible E.164 number
func NormalizeNumber(raw string) string {
	digits := nonDigits.ReplaceAllString(strings.TrimSpace(raw), "")
	digits = strings.TrimPrefix(digits, "00")

	if !validNumberRe.MatchString(digits) {
		return ""
	}
	return digits
}
