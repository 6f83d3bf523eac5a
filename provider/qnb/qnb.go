// Package qnb implements the QNB Finansbank PayFor protocol: a form posted
// 3-D gate signed with a packed SHA-1 hash, the historical PHP-microtime
// random seed the gate validates, and a semicolon-pair encoded provisioning
// response.
package qnb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/infra/crypto"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

const (
	// mbrID is PayFor's fixed QNB member id.
	mbrID = "5"

	prodGatewayURL = "https://vpos.qnbfinansbank.com/Gateway/Default.aspx"
	testGatewayURL = "https://vpostest.qnbfinansbank.com/Gateway/Default.aspx"
)

// Adapter drives the PayFor protocol for one terminal.
type Adapter struct {
	provider.NotSupported

	term         *store.Terminal
	creds        store.Credentials
	callbackBase string
	gatewayURL   string
	client       *provider.HTTPClient

	// now is swappable so the microtime seed is testable.
	now func() time.Time
}

// NewAdapter creates an unbound QNB adapter.
func NewAdapter() provider.Adapter { return &Adapter{now: time.Now} }

// Init binds the adapter to a terminal.
func (a *Adapter) Init(term *store.Terminal, creds store.Credentials, _ string, callbackBase string) error {
	if creds.MerchantID == "" || creds.Password == "" {
		return payerr.New(payerr.KindValidation, "qnb terminal needs merchantId and merchant password")
	}
	a.term = term
	a.creds = creds
	a.callbackBase = callbackBase
	a.gatewayURL = prodGatewayURL
	if term.TestMode {
		a.gatewayURL = testGatewayURL
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.client = provider.NewHTTPClient(&provider.HTTPClientConfig{
		InsecureSkipVerify: term.InsecureSkipVerify,
	})
	return nil
}

// microtimeRnd reproduces PHP's microtime() output the gate was built
// against: "0.<8 fractional digits> <unix seconds>".
func microtimeRnd(t time.Time) string {
	return fmt.Sprintf("0.%08d %d", t.Nanosecond()/10, t.Unix())
}

// formHash signs the 3-D form: packed SHA-1 over the member id, order,
// amount, return URLs, transaction type, installment, seed and merchant
// password.
func formHash(orderID, amount, okURL, failURL, installment, rnd, password string) string {
	return crypto.Sha1PackBase64(mbrID + orderID + amount + okURL + failURL + "Auth" + installment + rnd + password)
}

// Initialize prepares the 3-D form fields for the PayFor gateway.
func (a *Adapter) Initialize(_ context.Context, tx *store.Transaction, card store.ClearCard) error {
	amount := provider.FormatAmount2(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	expiry, err := provider.ExpiryMMYY(card.Expiry)
	if err != nil {
		return err
	}
	installment := provider.InstallmentOrEmpty(tx.Installment)
	callbackURL := provider.CallbackURL(a.callbackBase, tx.ID)
	rnd := microtimeRnd(a.now())

	form := map[string]string{
		"MbrId":            mbrID,
		"MerchantId":       a.creds.MerchantID,
		"OrderId":          tx.OrderID,
		"PurchAmount":      amount,
		"Currency":         currency,
		"OkUrl":            callbackURL,
		"FailUrl":          callbackURL,
		"TxnType":          "Auth",
		"InstallmentCount": installment,
		"SecureType":       "3DModel",
		"Rnd":              rnd,
		"Hash":             formHash(tx.OrderID, amount, callbackURL, callbackURL, installment, rnd, a.creds.Password),
		"Pan":              card.Number,
		"Expiry":           expiry,
		"Cvv2":             card.CVV,
		"Lang":             "TR",
	}

	tx.Secure.Provider = "qnb"
	tx.Secure.FormData = form
	tx.AppendLog(store.LogInit, map[string]string{"OrderId": tx.OrderID, "PurchAmount": amount, "Rnd": rnd}, nil)
	return nil
}

var formFieldOrder = []string{
	"MbrId", "MerchantId", "OrderId", "PurchAmount", "Currency", "OkUrl",
	"FailUrl", "TxnType", "InstallmentCount", "SecureType", "Rnd", "Hash",
	"Pan", "Expiry", "Cvv2", "Lang",
}

// FormHTML renders the auto-submit redirect to the PayFor gateway.
func (a *Adapter) FormHTML(tx *store.Transaction) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", payerr.New(payerr.KindState, "transaction has no 3-D form data")
	}
	fields := codec.NewFormValues()
	for _, key := range formFieldOrder {
		if value, ok := tx.Secure.FormData[key]; ok {
			fields.Set(key, value)
		}
	}
	tx.AppendLog(store.Log3DForm, map[string]string{"action": a.gatewayURL}, nil)
	return provider.AutoSubmitForm(a.gatewayURL, fields), nil
}

// Callback checks the gate's 3-D verdict and provisions with the returned
// request guid.
func (a *Adapter) Callback(ctx context.Context, tx *store.Transaction, params map[string]string, _ store.ClearCard) error {
	tx.AppendLog(store.Log3DCallback, nil, params)
	tx.Secure.Callback = params

	if params["3DStatus"] != "1" {
		message := params["ErrMsg"]
		if message == "" {
			message = "3D authentication failed"
		}
		tx.Result = &store.Result{Success: false, Code: "3DSTATUS_" + params["3DStatus"], Message: message}
		return nil
	}
	return a.provision(ctx, tx, params)
}

func (a *Adapter) provision(ctx context.Context, tx *store.Transaction, params map[string]string) error {
	amount := provider.FormatAmount2(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}

	fields := codec.NewFormValues()
	fields.Set("MbrId", mbrID).
		Set("MerchantId", a.creds.MerchantID).
		Set("UserCode", a.creds.Username).
		Set("UserPass", a.creds.Password).
		Set("OrderId", tx.OrderID).
		Set("SecureType", "3DModelPayment").
		Set("RequestGuid", params["RequestGuid"]).
		Set("TxnType", "Auth").
		Set("PurchAmount", amount).
		Set("Currency", currency).
		Set("InstallmentCount", provider.InstallmentOrEmpty(tx.Installment)).
		Set("Lang", "TR")

	tx.AppendLog(store.LogProvision, fields.Map(), nil)
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.gatewayURL, Form: fields})
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogProvision, nil, string(resp.Body))

	tx.Result = resultFromPairs(parsePairs(string(resp.Body)))
	return nil
}

// parsePairs decodes PayFor's "k=v;;k=v" response body.
func parsePairs(body string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(body), ";;") {
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		out[key] = value
	}
	return out
}

// resultFromPairs folds a decoded response into a Result.
func resultFromPairs(pairs map[string]string) *store.Result {
	code := pairs["ProcReturnCode"]
	if code == "00" {
		return &store.Result{
			Success:   true,
			Code:      code,
			Message:   "Approved",
			AuthCode:  pairs["AuthCode"],
			RefNumber: pairs["HostRefNum"],
		}
	}
	message := pairs["ErrMsg"]
	if message == "" {
		message = "transaction declined"
	}
	return &store.Result{Success: false, Code: code, Message: message}
}

// Direct posts a single NonSecure authorization carrying the clear card.
func (a *Adapter) Direct(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	amount := provider.FormatAmount2(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	expiry, err := provider.ExpiryMMYY(card.Expiry)
	if err != nil {
		return err
	}

	fields := codec.NewFormValues()
	fields.Set("MbrId", mbrID).
		Set("MerchantId", a.creds.MerchantID).
		Set("UserCode", a.creds.Username).
		Set("UserPass", a.creds.Password).
		Set("OrderId", tx.OrderID).
		Set("SecureType", "NonSecure").
		Set("TxnType", "Auth").
		Set("PurchAmount", amount).
		Set("Currency", currency).
		Set("InstallmentCount", provider.InstallmentOrEmpty(tx.Installment)).
		Set("Pan", card.Number).
		Set("Expiry", expiry).
		Set("Cvv2", card.CVV).
		Set("Lang", "TR")

	tx.AppendLog(store.LogInit, map[string]string{"OrderId": tx.OrderID, "PurchAmount": amount}, nil)
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.gatewayURL, Form: fields})
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogInit, nil, string(resp.Body))

	tx.Result = resultFromPairs(parsePairs(string(resp.Body)))
	return nil
}

// Capabilities reports the PayFor operation set.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{Direct: true, Refund: true, Cancel: true, Status: true}
}

// inverse runs a refund or void against the original order.
func (a *Adapter) inverse(ctx context.Context, tx *store.Transaction, txnType string, logType store.LogType, amount float64) (*store.Result, error) {
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return nil, err
	}

	fields := codec.NewFormValues()
	fields.Set("MbrId", mbrID).
		Set("MerchantId", a.creds.MerchantID).
		Set("UserCode", a.creds.Username).
		Set("UserPass", a.creds.Password).
		Set("OrderId", tx.OrderID).
		Set("SecureType", "NonSecure").
		Set("TxnType", txnType).
		Set("PurchAmount", provider.FormatAmount2(amount)).
		Set("Currency", currency).
		Set("Lang", "TR")

	tx.AppendLog(logType, fields.Map(), nil)
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.gatewayURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(logType, nil, string(resp.Body))

	result := resultFromPairs(parsePairs(string(resp.Body)))
	if !result.Success {
		return nil, payerr.Provider(result.Code, result.Message)
	}
	return result, nil
}

// Refund refunds amount against the captured order.
func (a *Adapter) Refund(ctx context.Context, tx *store.Transaction, amount float64) (*store.Result, error) {
	return a.inverse(ctx, tx, "Refund", store.LogRefund, amount)
}

// Cancel voids the captured order.
func (a *Adapter) Cancel(ctx context.Context, tx *store.Transaction) (*store.Result, error) {
	return a.inverse(ctx, tx, "Void", store.LogCancel, tx.Amount)
}

// Status queries the order.
func (a *Adapter) Status(ctx context.Context, tx *store.Transaction) (map[string]string, error) {
	fields := codec.NewFormValues()
	fields.Set("MbrId", mbrID).
		Set("MerchantId", a.creds.MerchantID).
		Set("UserCode", a.creds.Username).
		Set("UserPass", a.creds.Password).
		Set("OrderId", tx.OrderID).
		Set("SecureType", "Inquiry").
		Set("TxnType", "OrderInquiry").
		Set("Lang", "TR")

	tx.AppendLog(store.LogStatus, fields.Map(), nil)
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.gatewayURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, nil, string(resp.Body))

	return parsePairs(string(resp.Body)), nil
}
