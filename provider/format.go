package provider

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/payerr"
)

// FormatAmount2 renders an amount with two decimals and a dot: 150 → "150.00".
func FormatAmount2(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// FormatAmountCents renders an amount as an integer count of the minor unit:
// 150.00 → "15000". POSNET's dotless two-decimal format is the same string.
func FormatAmountCents(amount float64) string {
	return strconv.FormatInt(int64(math.Round(amount*100)), 10)
}

// PosnetOrderID pads an order id to POSNET's fixed 20-character XID field,
// zero-filled on the left. Longer ids keep their trailing characters, which
// carry the uniqueness.
func PosnetOrderID(orderID string) string {
	const width = 20
	if len(orderID) >= width {
		return orderID[len(orderID)-width:]
	}
	return strings.Repeat("0", width-len(orderID)) + orderID
}

// ParseExpiry splits an "MM/YY" expiry into its parts.
func ParseExpiry(expiry string) (month, year string, err error) {
	parts := strings.Split(expiry, "/")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return "", "", payerr.Newf(payerr.KindValidation, "expiry must be MM/YY, got %q", expiry)
	}
	m, convErr := strconv.Atoi(parts[0])
	if convErr != nil || m < 1 || m > 12 {
		return "", "", payerr.Newf(payerr.KindValidation, "invalid expiry month %q", parts[0])
	}
	if _, convErr := strconv.Atoi(parts[1]); convErr != nil {
		return "", "", payerr.Newf(payerr.KindValidation, "invalid expiry year %q", parts[1])
	}
	return parts[0], parts[1], nil
}

// ExpiryMMYY renders "MM/YY" as "MMYY".
func ExpiryMMYY(expiry string) (string, error) {
	m, y, err := ParseExpiry(expiry)
	if err != nil {
		return "", err
	}
	return m + y, nil
}

// ExpiryYYMM renders "MM/YY" as "YYMM".
func ExpiryYYMM(expiry string) (string, error) {
	m, y, err := ParseExpiry(expiry)
	if err != nil {
		return "", err
	}
	return y + m, nil
}

// ExpiryYYYYMM renders "MM/YY" as "20YYMM".
func ExpiryYYYYMM(expiry string) (string, error) {
	m, y, err := ParseExpiry(expiry)
	if err != nil {
		return "", err
	}
	return "20" + y + m, nil
}

// InstallmentOrEmpty renders an installment count, single payment as "".
func InstallmentOrEmpty(count int) string {
	if count <= 1 {
		return ""
	}
	return strconv.Itoa(count)
}

// PosnetInstallment renders an installment count zero-padded to two digits,
// single payment as "00".
func PosnetInstallment(count int) string {
	if count <= 1 {
		return "00"
	}
	return fmt.Sprintf("%02d", count)
}

// CallbackURL builds the public URL the bank posts the 3-D result back to.
func CallbackURL(base, transactionID string) string {
	return strings.TrimRight(base, "/") + "/payment/" + transactionID + "/callback"
}

// AutoSubmitForm renders the hosted redirect page: a hidden form targeting
// the bank's 3-D gateway that submits itself on load. Field order follows
// the ordered form values.
func AutoSubmitForm(action string, fields *codec.FormValues) string {
	var formFields strings.Builder
	for _, key := range fields.Keys() {
		formFields.WriteString(fmt.Sprintf("\t\t<input type=\"hidden\" name=%q value=%q />\n",
			html.EscapeString(key), html.EscapeString(fields.Get(key))))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>3D Secure</title>
	<meta charset="utf-8">
	<meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
</head>
<body onload="document.threeDForm.submit();">
	<div style="text-align: center; margin-top: 50px;">
		<p>Ödeme işleminiz 3D güvenlik sayfasına yönlendiriliyor...</p>
		<p>Payment is being redirected to 3D secure page...</p>
	</div>
	<form name="threeDForm" method="POST" action="%s">
%s	</form>
</body>
</html>`, html.EscapeString(action), formFields.String())
}
