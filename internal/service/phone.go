package service

import (
	"strings"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

const userSuffix = "@c.us"

// FormatRecipient normalizes a phone number to an engine user id. Values that
// already carry a domain (user or group ids) pass through unchanged. A leading
// 0 is replaced by countryCode.
func FormatRecipient(number, countryCode string) (string, error) {
	number = strings.TrimSpace(number)
	if strings.Contains(number, "@") {
		return number, nil
	}

	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", domain.NewValidationError("number", "number must contain digits")
	}
	if strings.HasPrefix(digits, "0") {
		digits = countryCode + digits[1:]
	}
	return digits + userSuffix, nil
}
