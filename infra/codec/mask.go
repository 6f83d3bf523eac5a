package codec

import "strings"

// MaskPAN renders the customer-visible card view: first six and last four
// digits clear, the rest starred, grouped by four ("4282 20** **** 8016").
func MaskPAN(pan string) string {
	digits := digitsOnly(pan)
	if len(digits) < 11 {
		return digits
	}

	masked := digits[:6] + strings.Repeat("*", len(digits)-10) + digits[len(digits)-4:]

	var sb strings.Builder
	for i, r := range masked {
		if i > 0 && i%4 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// BINOf returns the numeric BIN of a PAN: the leading eight digits.
func BINOf(pan string) string {
	digits := digitsOnly(pan)
	if len(digits) < 8 {
		return digits
	}
	return digits[:8]
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
