package patients

import "strings"

// NormalizePhone converts any phone spelling to the 10-digit local format
// with a leading 0. The +213 country code is replaced by the 0 prefix.
// Normalization is idempotent and never yields more than 10 characters.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(digits, "213"):
		digits = "0" + digits[3:]
	case strings.HasPrefix(digits, "0"):
		// already local form
	default:
		digits = "0" + digits
	}

	if len(digits) > 10 {
		digits = digits[:10]
	}
	return digits
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
