package provider

import (
	"regexp"

	"github.com/metinweb/ors-payment-service/infra/codec"
)

var cardFieldPattern = regexp.MustCompile(`<(Number|Pan|CardNumber|CVV2|Cvv2Val|Cvv2|Cvv|Expires|Expiry|ExpireDate|Expire)>([^<]+)</`)

// RedactCard strips cardholder data from a wire payload before it enters the
// transaction log: PAN fields are masked, expiry and CVV values elided. The
// payload sent to the acquirer is never touched.
func RedactCard(payload string) string {
	return cardFieldPattern.ReplaceAllStringFunc(payload, func(m string) string {
		sub := cardFieldPattern.FindStringSubmatch(m)
		tag, value := sub[1], sub[2]
		switch tag {
		case "Number", "Pan", "CardNumber":
			value = codec.MaskPAN(value)
		default:
			value = "***"
		}
		return "<" + tag + ">" + value + "</"
	})
}
