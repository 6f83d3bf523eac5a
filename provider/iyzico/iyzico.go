// Package iyzico implements the iyzico aggregator protocol: JSON over HTTPS
// with the IYZWS authorization scheme, where the request signature covers the
// PKI string rendering of the exact body being sent.
package iyzico

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/infra/crypto"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

const (
	prodAPIURL = "https://api.iyzipay.com"
	testAPIURL = "https://sandbox-api.iyzipay.com"

	endpoint3DInitialize = "/payment/3dsecure/initialize"
	endpoint3DAuth       = "/payment/3dsecure/auth"
	endpointAuth         = "/payment/auth"
	endpointRefund       = "/payment/refund"
	endpointCancel       = "/payment/cancel"
	endpointDetail       = "/payment/detail"
)

// Adapter drives the iyzico protocol for one terminal. API key rides in the
// credentials username field, the secret in secretKey.
type Adapter struct {
	provider.NotSupported

	term         *store.Terminal
	creds        store.Credentials
	callbackBase string
	client       *provider.HTTPClient

	// rnd feeds the x-iyzi-rnd header and the auth hash; swappable in tests.
	rnd func() string
}

// NewAdapter creates an unbound iyzico adapter.
func NewAdapter() provider.Adapter {
	return &Adapter{rnd: func() string { return uuid.New().String() }}
}

// Init binds the adapter to a terminal.
func (a *Adapter) Init(term *store.Terminal, creds store.Credentials, _ string, callbackBase string) error {
	if creds.Username == "" || creds.SecretKey == "" {
		return payerr.New(payerr.KindValidation, "iyzico terminal needs apiKey (username) and secretKey")
	}
	a.term = term
	a.creds = creds
	a.callbackBase = callbackBase
	baseURL := prodAPIURL
	if term.TestMode {
		baseURL = testAPIURL
	}
	if a.rnd == nil {
		a.rnd = func() string { return uuid.New().String() }
	}
	a.client = provider.NewHTTPClient(&provider.HTTPClientConfig{
		BaseURL:            baseURL,
		InsecureSkipVerify: term.InsecureSkipVerify,
	})
	return nil
}

// authHash signs a request: packed SHA-1 over the api key, the per-request
// random string, the secret and the PKI rendering of the body.
func authHash(apiKey, rnd, secret, pkiString string) string {
	return crypto.Sha1PackBase64(apiKey + rnd + secret + pkiString)
}

// send posts a PKI body with the IYZWS authorization headers and decodes the
// JSON response.
func (a *Adapter) send(ctx context.Context, endpoint string, body *codec.PKI) (map[string]any, error) {
	rnd := a.rnd()
	headers := map[string]string{
		"Authorization": fmt.Sprintf("IYZWS %s:%s", a.creds.Username, authHash(a.creds.Username, rnd, a.creds.SecretKey, body.String())),
		"x-iyzi-rnd":    rnd,
	}
	resp, err := a.client.SendJSON(ctx, &provider.HTTPRequest{
		Endpoint: endpoint,
		Headers:  headers,
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	parsed, err := resp.JSONMap()
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProvider, "unparseable iyzico response", err)
	}
	return parsed, nil
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// paymentBody builds the 3-D initialize request in the documented field
// order; the signature depends on it.
func (a *Adapter) paymentBody(tx *store.Transaction, card store.ClearCard) (*codec.PKI, error) {
	month, year, err := provider.ParseExpiry(card.Expiry)
	if err != nil {
		return nil, err
	}
	amount := provider.FormatAmount2(tx.Amount)

	paymentCard := codec.NewPKI()
	paymentCard.Add("cardHolderName", card.Holder).
		Add("cardNumber", card.Number).
		Add("expireYear", "20"+year).
		Add("expireMonth", month).
		Add("cvc", card.CVV).
		Add("registerCard", 0)

	buyer := codec.NewPKI()
	buyer.Add("id", tx.ID).
		Add("name", tx.Customer.Name).
		Add("surname", tx.Customer.Name).
		Add("identityNumber", "11111111111").
		Add("email", tx.Customer.Email).
		Add("gsmNumber", tx.Customer.Phone).
		Add("registrationAddress", "-").
		Add("city", "-").
		Add("country", "-").
		Add("ip", tx.Customer.IP)

	address := codec.NewPKI()
	address.Add("address", "-").
		Add("contactName", tx.Customer.Name).
		Add("city", "-").
		Add("country", "-")

	item := codec.NewPKI()
	item.Add("id", tx.OrderID).
		Add("price", amount).
		Add("name", "order "+tx.OrderID).
		Add("category1", "payment").
		Add("itemType", "VIRTUAL")

	body := codec.NewPKI()
	body.Add("locale", "tr").
		Add("conversationId", tx.ID).
		Add("price", amount).
		Add("paidPrice", amount).
		Add("installment", tx.Installment).
		Add("paymentChannel", "WEB").
		Add("basketId", tx.OrderID).
		Add("paymentGroup", "PRODUCT").
		Add("paymentCard", paymentCard).
		Add("buyer", buyer).
		Add("shippingAddress", address).
		Add("billingAddress", address).
		Add("basketItems", []any{item}).
		Add("currency", provider.IyzicoCurrency(tx.Currency)).
		Add("callbackUrl", provider.CallbackURL(a.callbackBase, tx.ID))
	return body, nil
}

// Initialize starts the 3-D flow; iyzico returns the complete challenge
// document base64-encoded in threeDSHtmlContent.
func (a *Adapter) Initialize(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	body, err := a.paymentBody(tx, card)
	if err != nil {
		return err
	}

	tx.AppendLog(store.LogInit, map[string]string{"conversationId": tx.ID, "price": provider.FormatAmount2(tx.Amount)}, nil)
	resp, err := a.send(ctx, endpoint3DInitialize, body)
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogInit, nil, resp)

	if str(resp, "status") != "success" {
		return payerr.Provider(str(resp, "errorCode"), str(resp, "errorMessage"))
	}
	htmlContent := str(resp, "threeDSHtmlContent")
	if htmlContent == "" {
		return payerr.Provider("", "initialize response carries no 3D content")
	}

	tx.Secure.Provider = "iyzico"
	tx.Secure.FormData = map[string]string{"htmlContent": htmlContent}
	return nil
}

// FormHTML decodes the stored challenge document and serves it verbatim.
func (a *Adapter) FormHTML(tx *store.Transaction) (string, error) {
	content := tx.Secure.FormData["htmlContent"]
	if content == "" {
		return "", payerr.New(payerr.KindState, "transaction has no 3-D form data")
	}
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", payerr.Wrap(payerr.KindCrypto, "undecodable 3D content", err)
	}
	tx.AppendLog(store.Log3DForm, nil, nil)
	return string(decoded), nil
}

// Callback checks the 3-D verdict and completes the payment with the
// returned paymentId and conversationData.
func (a *Adapter) Callback(ctx context.Context, tx *store.Transaction, params map[string]string, _ store.ClearCard) error {
	tx.AppendLog(store.Log3DCallback, nil, params)
	tx.Secure.Callback = params

	if params["status"] != "success" {
		tx.Result = &store.Result{
			Success: false,
			Code:    "MDSTATUS_" + params["mdStatus"],
			Message: "3D authentication failed",
		}
		return nil
	}

	body := codec.NewPKI()
	body.Add("locale", "tr").
		Add("conversationId", tx.ID).
		Add("paymentId", params["paymentId"]).
		Add("conversationData", params["conversationData"])

	tx.AppendLog(store.LogProvision, map[string]string{"paymentId": params["paymentId"]}, nil)
	resp, err := a.send(ctx, endpoint3DAuth, body)
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogProvision, nil, resp)

	tx.Result = resultFrom(resp)
	return nil
}

// resultFrom folds an iyzico payment response into a Result.
func resultFrom(resp map[string]any) *store.Result {
	if str(resp, "status") == "success" {
		return &store.Result{
			Success:   true,
			Code:      "0",
			Message:   "Approved",
			AuthCode:  str(resp, "authCode"),
			RefNumber: str(resp, "paymentId"),
		}
	}
	message := str(resp, "errorMessage")
	if message == "" {
		message = "transaction declined"
	}
	return &store.Result{Success: false, Code: str(resp, "errorCode"), Message: message}
}

// Direct posts a single non-3-D payment. The body is the 3-D initialize
// payload minus the callback URL.
func (a *Adapter) Direct(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	body, err := a.paymentBody(tx, card)
	if err != nil {
		return err
	}
	body.Remove("callbackUrl")

	tx.AppendLog(store.LogInit, map[string]string{"conversationId": tx.ID, "price": provider.FormatAmount2(tx.Amount)}, nil)
	resp, err := a.send(ctx, endpointAuth, body)
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogInit, nil, resp)

	tx.Result = resultFrom(resp)
	return nil
}

// Capabilities reports the iyzico operation set.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{Direct: true, Refund: true, Cancel: true, Status: true}
}

// Refund refunds amount against the item transaction of the captured
// payment.
func (a *Adapter) Refund(ctx context.Context, tx *store.Transaction, amount float64) (*store.Result, error) {
	reference, err := a.reference(tx)
	if err != nil {
		return nil, err
	}

	body := codec.NewPKI()
	body.Add("locale", "tr").
		Add("conversationId", tx.ID).
		Add("paymentTransactionId", reference).
		Add("price", provider.FormatAmount2(amount)).
		Add("ip", tx.Customer.IP)

	tx.AppendLog(store.LogRefund, map[string]string{"paymentTransactionId": reference}, nil)
	resp, err := a.send(ctx, endpointRefund, body)
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogRefund, nil, resp)

	return approvedOnly(resp)
}

// Cancel voids the captured payment.
func (a *Adapter) Cancel(ctx context.Context, tx *store.Transaction) (*store.Result, error) {
	reference, err := a.reference(tx)
	if err != nil {
		return nil, err
	}

	body := codec.NewPKI()
	body.Add("locale", "tr").
		Add("conversationId", tx.ID).
		Add("paymentId", reference).
		Add("ip", tx.Customer.IP)

	tx.AppendLog(store.LogCancel, map[string]string{"paymentId": reference}, nil)
	resp, err := a.send(ctx, endpointCancel, body)
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogCancel, nil, resp)

	return approvedOnly(resp)
}

// Status queries the payment detail.
func (a *Adapter) Status(ctx context.Context, tx *store.Transaction) (map[string]string, error) {
	reference, err := a.reference(tx)
	if err != nil {
		return nil, err
	}

	body := codec.NewPKI()
	body.Add("locale", "tr").
		Add("conversationId", tx.ID).
		Add("paymentId", reference)

	tx.AppendLog(store.LogStatus, map[string]string{"paymentId": reference}, nil)
	resp, err := a.send(ctx, endpointDetail, body)
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, nil, resp)

	out := make(map[string]string, len(resp))
	for k, v := range resp {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

func (a *Adapter) reference(tx *store.Transaction) (string, error) {
	if tx.Result == nil || tx.Result.RefNumber == "" {
		return "", payerr.New(payerr.KindState, "transaction has no payment reference")
	}
	return tx.Result.RefNumber, nil
}

func approvedOnly(resp map[string]any) (*store.Result, error) {
	result := resultFrom(resp)
	if !result.Success {
		return nil, payerr.Provider(result.Code, result.Message)
	}
	return result, nil
}
