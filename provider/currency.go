package provider

import (
	"strings"

	"github.com/metinweb/ors-payment-service/payerr"
)

// ISO 4217 numeric codes, as the NestPay, Garanti and VakıfBank wire formats
// want them.
var numericCurrencies = map[string]string{
	"try": "949",
	"usd": "840",
	"eur": "978",
	"gbp": "826",
}

// POSNET speaks its own two-letter currency alphabet.
var posnetCurrencies = map[string]string{
	"try": "TL",
	"usd": "US",
	"eur": "EU",
	"gbp": "PU",
}

// VakıfBank identifies the card scheme with a numeric brand code.
var vakifBrandCodes = map[string]string{
	"visa":        "100",
	"mastercard":  "200",
	"master_card": "200",
	"amex":        "300",
}

// NumericCurrency returns the ISO 4217 numeric code for a lowercase currency.
func NumericCurrency(currency string) (string, error) {
	code, ok := numericCurrencies[currency]
	if !ok {
		return "", payerr.Newf(payerr.KindValidation, "unsupported currency %q", currency)
	}
	return code, nil
}

// PosnetCurrency returns the POSNET two-letter code for a lowercase currency.
func PosnetCurrency(currency string) (string, error) {
	code, ok := posnetCurrencies[currency]
	if !ok {
		return "", payerr.Newf(payerr.KindValidation, "unsupported currency %q", currency)
	}
	return code, nil
}

// IyzicoCurrency returns the alphabetic ISO 4217 code iyzico expects.
func IyzicoCurrency(currency string) string {
	return strings.ToUpper(currency)
}

// VakifBrandCode returns VakıfBank's numeric code for a card brand.
func VakifBrandCode(brand string) (string, error) {
	code, ok := vakifBrandCodes[brand]
	if !ok {
		return "", payerr.Newf(payerr.KindValidation, "unsupported card brand %q", brand)
	}
	return code, nil
}
