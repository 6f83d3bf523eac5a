// Package vakifbank implements the VakıfBank VPOS protocol: a two-call 3-D
// flow (VerifyEnrollment against the MPI, then a browser post to the issuer
// ACS) followed by a VposRequest XML provision carrying the ECI/CAVV
// evidence.
package vakifbank

import (
	"context"
	"strings"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

const (
	prodEnrollmentURL = "https://3dsecure.vakifbank.com.tr/MPIAPI/MPI_Enrollment.aspx"
	testEnrollmentURL = "https://3dsecuretest.vakifbank.com.tr/MPIAPI/MPI_Enrollment.aspx"
	prodAPIURL        = "https://onlineodeme.vakifbank.com.tr:4443/VposService/v3/Vposreq.aspx"
	testAPIURL        = "https://onlineodemetest.vakifbank.com.tr:4443/VposService/v3/Vposreq.aspx"
)

// Adapter drives the VakıfBank VPOS protocol for one terminal.
type Adapter struct {
	provider.NotSupported

	term          *store.Terminal
	creds         store.Credentials
	callbackBase  string
	enrollmentURL string
	apiURL        string
	client        *provider.HTTPClient
}

// NewAdapter creates an unbound VakıfBank adapter.
func NewAdapter() provider.Adapter { return &Adapter{} }

// Init binds the adapter to a terminal. TerminalNo rides in the credentials
// terminalId field.
func (a *Adapter) Init(term *store.Terminal, creds store.Credentials, _ string, callbackBase string) error {
	if creds.MerchantID == "" || creds.TerminalID == "" || creds.Password == "" {
		return payerr.New(payerr.KindValidation, "vakifbank terminal needs merchantId, terminalNo and password")
	}
	a.term = term
	a.creds = creds
	a.callbackBase = callbackBase
	a.enrollmentURL, a.apiURL = prodEnrollmentURL, prodAPIURL
	if term.TestMode {
		a.enrollmentURL, a.apiURL = testEnrollmentURL, testAPIURL
	}
	a.client = provider.NewHTTPClient(&provider.HTTPClientConfig{
		InsecureSkipVerify: term.InsecureSkipVerify,
	})
	return nil
}

// Initialize runs VerifyEnrollment against the MPI and stores the ACS
// redirect parameters.
func (a *Adapter) Initialize(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	amount := provider.FormatAmount2(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	expiry, err := provider.ExpiryYYMM(card.Expiry)
	if err != nil {
		return err
	}
	brand, err := provider.VakifBrandCode(tx.Bin.Brand)
	if err != nil {
		return err
	}
	callbackURL := provider.CallbackURL(a.callbackBase, tx.ID)

	fields := codec.NewFormValues()
	fields.Set("Pan", card.Number).
		Set("ExpiryDate", expiry).
		Set("PurchaseAmount", amount).
		Set("Currency", currency).
		Set("BrandName", brand).
		Set("VerifyEnrollmentRequestId", tx.OrderID).
		Set("MerchantId", a.creds.MerchantID).
		Set("MerchantPassword", a.creds.Password).
		Set("SuccessUrl", callbackURL).
		Set("FailureUrl", callbackURL).
		Set("InstallmentCount", provider.InstallmentOrEmpty(tx.Installment))

	tx.AppendLog(store.LogInit, map[string]string{
		"VerifyEnrollmentRequestId": tx.OrderID,
		"PurchaseAmount":            amount,
		"BrandName":                 brand,
	}, nil)

	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.enrollmentURL, Form: fields})
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogInit, nil, string(resp.Body))

	parsed, err := codec.ParseXML(resp.Body)
	if err != nil {
		return payerr.Wrap(payerr.KindProvider, "unparseable enrollment response", err)
	}

	status := parsed.TextOf("Message", "VERes", "Status")
	if status != "Y" {
		code := parsed.TextOf("MessageErrorCode")
		message := parsed.TextOf("ErrorMessage")
		if message == "" {
			message = "card is not enrolled for 3D secure"
		}
		return payerr.Provider(code, message)
	}

	tx.Secure.Provider = "vakifbank"
	tx.Secure.MD = parsed.TextOf("Message", "VERes", "MD")
	tx.Secure.FormData = map[string]string{
		"acsUrl":  parsed.TextOf("Message", "VERes", "ACSUrl"),
		"PaReq":   parsed.TextOf("Message", "VERes", "PaReq"),
		"TermUrl": parsed.TextOf("Message", "VERes", "TermUrl"),
		"MD":      parsed.TextOf("Message", "VERes", "MD"),
	}
	return nil
}

// FormHTML renders the auto-submit redirect to the issuer ACS.
func (a *Adapter) FormHTML(tx *store.Transaction) (string, error) {
	form := tx.Secure.FormData
	if len(form) == 0 || form["acsUrl"] == "" {
		return "", payerr.New(payerr.KindState, "transaction has no 3-D form data")
	}
	fields := codec.NewFormValues()
	fields.Set("PaReq", form["PaReq"]).
		Set("TermUrl", form["TermUrl"]).
		Set("MD", form["MD"])

	tx.AppendLog(store.Log3DForm, map[string]string{"action": form["acsUrl"]}, nil)
	return provider.AutoSubmitForm(form["acsUrl"], fields), nil
}

// Callback checks the ACS verdict and provisions with the returned ECI and
// CAVV evidence.
func (a *Adapter) Callback(ctx context.Context, tx *store.Transaction, params map[string]string, card store.ClearCard) error {
	tx.AppendLog(store.Log3DCallback, nil, params)
	tx.Secure.Callback = params
	tx.Secure.ECI = params["Eci"]
	tx.Secure.CAVV = params["Cavv"]

	if params["Status"] != "Y" {
		message := params["ErrorMessage"]
		if message == "" {
			message = "3D authentication failed"
		}
		tx.Result = &store.Result{Success: false, Code: "STATUS_" + params["Status"], Message: message}
		return nil
	}
	return a.provision(ctx, tx, params, card)
}

func (a *Adapter) provision(ctx context.Context, tx *store.Transaction, params map[string]string, card store.ClearCard) error {
	amount := provider.FormatAmount2(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	expiry, err := provider.ExpiryYYYYMM(card.Expiry)
	if err != nil {
		return err
	}

	root := codec.NewXMLNode("VposRequest")
	root.Add("MerchantId", a.creds.MerchantID).
		Add("Password", a.creds.Password).
		Add("TerminalNo", a.creds.TerminalID).
		Add("TransactionType", "Sale").
		Add("TransactionId", tx.OrderID).
		Add("CurrencyAmount", amount).
		Add("CurrencyCode", currency).
		Add("NumberOfInstallments", provider.InstallmentOrEmpty(tx.Installment)).
		Add("Pan", card.Number).
		Add("Expiry", expiry).
		Add("ECI", params["Eci"]).
		Add("CAVV", params["Cavv"]).
		Add("MpiTransactionId", params["VerifyEnrollmentRequestId"]).
		Add("TransactionDeviceSource", "0").
		Add("ClientIp", tx.Customer.IP)

	result, err := a.sendVpos(ctx, tx, store.LogProvision, root)
	if err != nil {
		return err
	}
	tx.Result = result
	return nil
}

// sendVpos posts a VposRequest as the prmstr form field and folds the
// response into a Result.
func (a *Adapter) sendVpos(ctx context.Context, tx *store.Transaction, logType store.LogType, root *codec.XMLNode) (*store.Result, error) {
	xmlBody, err := codec.BuildXML(root, "UTF-8")
	if err != nil {
		return nil, err
	}
	tx.AppendLog(logType, provider.RedactCard(string(xmlBody)), nil)

	fields := codec.NewFormValues()
	fields.Set("prmstr", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(logType, nil, string(resp.Body))

	return parseVposResponse(resp.Body)
}

// parseVposResponse folds a VposResponse document into a Result.
func parseVposResponse(body []byte) (*store.Result, error) {
	parsed, err := codec.ParseXML(body)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProvider, "unparseable vpos response", err)
	}

	code := parsed.TextOf("ResultCode")
	detail := parsed.TextOf("ResultDetail")
	if code == "0000" {
		return &store.Result{
			Success:   true,
			Code:      code,
			Message:   successMessage(detail),
			AuthCode:  parsed.TextOf("AuthCode"),
			RefNumber: parsed.TextOf("TransactionId"),
		}, nil
	}
	if detail == "" {
		detail = "transaction declined"
	}
	return &store.Result{Success: false, Code: code, Message: detail}, nil
}

func successMessage(detail string) string {
	if strings.TrimSpace(detail) == "" {
		return "Approved"
	}
	return detail
}

// Refund refunds amount against the captured transaction.
func (a *Adapter) Refund(ctx context.Context, tx *store.Transaction, amount float64) (*store.Result, error) {
	return a.inverse(ctx, tx, "Refund", store.LogRefund, amount)
}

// Cancel voids the captured transaction.
func (a *Adapter) Cancel(ctx context.Context, tx *store.Transaction) (*store.Result, error) {
	return a.inverse(ctx, tx, "Cancel", store.LogCancel, tx.Amount)
}

func (a *Adapter) inverse(ctx context.Context, tx *store.Transaction, txnType string, logType store.LogType, amount float64) (*store.Result, error) {
	reference := ""
	if tx.Result != nil {
		reference = tx.Result.RefNumber
	}
	if reference == "" {
		return nil, payerr.New(payerr.KindState, "transaction has no reference to operate on")
	}

	root := codec.NewXMLNode("VposRequest")
	root.Add("MerchantId", a.creds.MerchantID).
		Add("Password", a.creds.Password).
		Add("TerminalNo", a.creds.TerminalID).
		Add("TransactionType", txnType).
		Add("ReferenceTransactionId", reference).
		Add("CurrencyAmount", provider.FormatAmount2(amount)).
		Add("ClientIp", tx.Customer.IP)

	result, err := a.sendVpos(ctx, tx, logType, root)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, payerr.Provider(result.Code, result.Message)
	}
	return result, nil
}

// Status is not part of the VakıfBank VPOS surface; reconciliation goes
// through the bank's reporting channel.
func (a *Adapter) Status(_ context.Context, _ *store.Transaction) (map[string]string, error) {
	return nil, payerr.New(payerr.KindNotImplemented, "vakifbank does not expose a status query")
}

// Capabilities reports the VPOS operation set. The bank exposes no order
// status query.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{Refund: true, Cancel: true}
}
