// Package support builds links to the customer help line.
package support

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
)

const whatsAppBase = "https://wa.me/"

// E.164 allows at most 15 digits; anything shorter than 8 is not a
// reachable number.
const (
	minDigits = 8
	maxDigits = 15
)

// WhatsAppLink returns a click-to-chat link for number with message
// pre-filled. Spaces, dashes, brackets and a leading plus are dropped from
// the number.
func WhatsAppLink(number, message string) (string, error) {
	var digits strings.Builder
	for i, r := range strings.TrimSpace(number) {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' && i == 0, r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", apperr.New(apperr.KindInvalidInput, "help line number %q contains %q", number, r)
		}
	}
	n := digits.Len()
	if n < minDigits || n > maxDigits {
		return "", apperr.New(apperr.KindInvalidInput, "help line number %q must have %d to %d digits", number, minDigits, maxDigits)
	}

	link := whatsAppBase + digits.String()
	if text := strings.TrimSpace(message); text != "" {
		link += "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	}
	return link, nil
}
