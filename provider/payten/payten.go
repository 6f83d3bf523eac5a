// Package payten implements the Payten/NestPay (EST) virtual POS protocol
// shared by İş Bankası, Halkbank, Ziraat, TEB, ING, Şekerbank, Akbank and
// Denizbank: a form-encoded 3-D gate signed with the ver3 SHA-512 hash and a
// CC5Request XML provisioning API.
package payten

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/infra/crypto"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

// bankURLs maps a bank tag to its production EST endpoints. Test mode always
// goes through the shared Asseco integration environment.
var bankURLs = map[string]struct{ gate, api string }{
	"isbank":    {"https://sanalpos.isbank.com.tr/fim/est3Dgate", "https://sanalpos.isbank.com.tr/fim/api"},
	"halkbank":  {"https://sanalpos.halkbank.com.tr/fim/est3Dgate", "https://sanalpos.halkbank.com.tr/fim/api"},
	"ziraat":    {"https://sanalpos2.ziraatbank.com.tr/fim/est3Dgate", "https://sanalpos2.ziraatbank.com.tr/fim/api"},
	"teb":       {"https://sanalpos.teb.com.tr/fim/est3Dgate", "https://sanalpos.teb.com.tr/fim/api"},
	"akbank":    {"https://www.sanalakpos.com/fim/est3Dgate", "https://www.sanalakpos.com/fim/api"},
	"ing":       {"https://sanalpos.ingbank.com.tr/fim/est3Dgate", "https://sanalpos.ingbank.com.tr/fim/api"},
	"sekerbank": {"https://sanalpos.sekerbank.com.tr/fim/est3Dgate", "https://sanalpos.sekerbank.com.tr/fim/api"},
	"denizbank": {"https://sanalpos.denizbank.com/fim/est3Dgate", "https://sanalpos.denizbank.com/fim/api"},
}

const (
	testGateURL = "https://entegrasyon.asseco-see.com.tr/fim/est3Dgate"
	testAPIURL  = "https://entegrasyon.asseco-see.com.tr/fim/api"
)

// defaultAcceptedMDStatuses: the platform documents {1,2,3,4} as acceptable
// but banks routinely refuse provisions on half-authenticated 2/3/4, so only
// full authentication passes unless the terminal opts in to more.
var defaultAcceptedMDStatuses = map[string]bool{"1": true}

// Adapter drives the NestPay protocol for one terminal.
type Adapter struct {
	provider.NotSupported

	term         *store.Terminal
	creds        store.Credentials
	storeKey     string
	callbackBase string
	gateURL      string
	apiURL       string
	accepted     map[string]bool
	client       *provider.HTTPClient
}

// NewAdapter creates an unbound NestPay adapter.
func NewAdapter() provider.Adapter { return &Adapter{} }

// Init binds the adapter to a terminal.
func (a *Adapter) Init(term *store.Terminal, creds store.Credentials, storeKey, callbackBase string) error {
	if creds.MerchantID == "" || creds.Username == "" || creds.Password == "" {
		return payerr.New(payerr.KindValidation, "nestpay terminal needs merchantId, username and password")
	}
	if storeKey == "" {
		return payerr.New(payerr.KindValidation, "nestpay terminal needs a store key")
	}
	a.term = term
	a.creds = creds
	a.storeKey = storeKey
	a.callbackBase = callbackBase

	urls, ok := bankURLs[string(term.BankCode)]
	if !ok {
		urls = bankURLs["isbank"]
	}
	a.gateURL, a.apiURL = urls.gate, urls.api
	if term.TestMode {
		a.gateURL, a.apiURL = testGateURL, testAPIURL
	}

	a.accepted = defaultAcceptedMDStatuses
	if len(term.Secure3D.AcceptedMDStatuses) > 0 {
		a.accepted = make(map[string]bool, len(term.Secure3D.AcceptedMDStatuses))
		for _, s := range term.Secure3D.AcceptedMDStatuses {
			a.accepted[s] = true
		}
	}

	a.client = provider.NewHTTPClient(&provider.HTTPClientConfig{
		InsecureSkipVerify: term.InsecureSkipVerify,
	})
	return nil
}

// escapeHashValue protects the hash separators: backslash first, then pipe.
func escapeHashValue(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	return strings.ReplaceAll(value, "|", "\\|")
}

// hashV3 computes the ver3 form hash: values sorted by case-insensitive key
// (hash and encoding excluded), pipe-joined after escaping, the store key
// appended, then base64 over the raw SHA-512 bytes.
func hashV3(params map[string]string, storeKey string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		lower := strings.ToLower(key)
		if lower != "hash" && lower != "encoding" {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	var hashVal strings.Builder
	for _, key := range keys {
		hashVal.WriteString(escapeHashValue(params[key]))
		hashVal.WriteString("|")
	}
	hashVal.WriteString(escapeHashValue(storeKey))

	return crypto.Sha512PackBase64(hashVal.String())
}

// Initialize prepares the 3-D form fields for the EST gate.
func (a *Adapter) Initialize(_ context.Context, tx *store.Transaction, card store.ClearCard) error {
	amount := provider.FormatAmount2(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	month, year, err := provider.ParseExpiry(card.Expiry)
	if err != nil {
		return err
	}
	callbackURL := provider.CallbackURL(a.callbackBase, tx.ID)

	form := map[string]string{
		"clientid":                        a.creds.MerchantID,
		"oid":                             tx.OrderID,
		"amount":                          amount,
		"currency":                        currency,
		"Instalment":                      provider.InstallmentOrEmpty(tx.Installment),
		"okUrl":                           callbackURL,
		"failUrl":                         callbackURL,
		"TranType":                        "Auth",
		"rnd":                             uuid.New().String(),
		"storetype":                       "3d",
		"hashAlgorithm":                   "ver3",
		"lang":                            "tr",
		"pan":                             card.Number,
		"Ecom_Payment_Card_ExpDate_Month": month,
		"Ecom_Payment_Card_ExpDate_Year":  year,
		"cv2":                             card.CVV,
	}
	form["hash"] = hashV3(form, a.storeKey)

	tx.Secure.Provider = string(a.term.BankCode)
	tx.Secure.FormData = form
	tx.AppendLog(store.LogInit, map[string]string{"oid": tx.OrderID, "amount": amount, "hash": form["hash"]}, nil)
	return nil
}

var formFieldOrder = []string{
	"clientid", "oid", "amount", "currency", "Instalment", "okUrl", "failUrl",
	"TranType", "rnd", "storetype", "hashAlgorithm", "lang", "pan",
	"Ecom_Payment_Card_ExpDate_Month", "Ecom_Payment_Card_ExpDate_Year",
	"cv2", "hash",
}

// FormHTML renders the auto-submit redirect to the EST gate.
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
	tx.AppendLog(store.Log3DForm, map[string]string{"action": a.gateURL}, nil)
	return provider.AutoSubmitForm(a.gateURL, fields), nil
}

// Callback verifies the gate's signed return post, checks the 3-D status
// against the terminal's accepted set, and provisions on pass.
func (a *Adapter) Callback(ctx context.Context, tx *store.Transaction, params map[string]string, card store.ClearCard) error {
	tx.AppendLog(store.Log3DCallback, nil, params)
	tx.Secure.Callback = params
	tx.Secure.MD = params["md"]
	tx.Secure.ECI = params["eci"]
	tx.Secure.CAVV = params["cavv"]

	if received, ok := params["HASH"]; ok {
		if expected := hashV3(params, a.storeKey); received != expected {
			tx.Result = &store.Result{Success: false, Code: "HASH_MISMATCH", Message: "callback signature verification failed"}
			return nil
		}
	}

	mdStatus := params["mdStatus"]
	if !a.accepted[mdStatus] {
		message := params["mdErrorMsg"]
		if message == "" {
			message = "3D authentication failed"
		}
		tx.Result = &store.Result{Success: false, Code: "MDSTATUS_" + mdStatus, Message: message}
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

	root := codec.NewXMLNode("CC5Request")
	root.Add("Name", a.creds.Username).
		Add("Password", a.creds.Password).
		Add("ClientId", a.creds.MerchantID).
		Add("Type", "Auth").
		Add("IPAddress", tx.Customer.IP).
		Add("Email", tx.Customer.Email).
		Add("OrderId", tx.OrderID).
		Add("Total", amount).
		Add("Currency", currency).
		Add("Instalment", provider.InstallmentOrEmpty(tx.Installment)).
		Add("Number", card.Number).
		Add("PayerTxnId", params["xid"]).
		Add("PayerSecurityLevel", params["eci"]).
		Add("PayerAuthenticationCode", params["cavv"]).
		Add("CardholderPresentCode", "13")

	result, err := a.sendCC5(ctx, tx, store.LogProvision, root)
	if err != nil {
		return err
	}
	tx.Result = result
	return nil
}

// sendCC5 posts a CC5Request and folds the response into a Result.
func (a *Adapter) sendCC5(ctx context.Context, tx *store.Transaction, logType store.LogType, root *codec.XMLNode) (*store.Result, error) {
	xmlBody, err := codec.BuildXML(root, "UTF-8")
	if err != nil {
		return nil, err
	}
	tx.AppendLog(logType, provider.RedactCard(string(xmlBody)), nil)

	fields := codec.NewFormValues()
	fields.Set("DATA", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(logType, nil, string(resp.Body))

	return parseCC5Response(resp.Body)
}

// parseCC5Response folds a CC5Response document into a Result.
func parseCC5Response(body []byte) (*store.Result, error) {
	parsed, err := codec.ParseXML(body)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProvider, "unparseable CC5 response", err)
	}

	code := parsed.TextOf("ProcReturnCode")
	if parsed.TextOf("Response") == "Approved" {
		return &store.Result{
			Success:   true,
			Code:      code,
			Message:   "Approved",
			AuthCode:  parsed.TextOf("AuthCode"),
			RefNumber: parsed.TextOf("TransId"),
		}, nil
	}
	message := parsed.TextOf("ErrMsg")
	if message == "" {
		message = parsed.TextOf("Response")
	}
	return &store.Result{Success: false, Code: code, Message: message}, nil
}

// saleRequest builds a CC5Request carrying the clear card, shared by the
// non-3-D Auth and PreAuth paths.
func (a *Adapter) saleRequest(tx *store.Transaction, card store.ClearCard, txnType string) (*codec.XMLNode, error) {
	amount := provider.FormatAmount2(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return nil, err
	}
	root := codec.NewXMLNode("CC5Request")
	root.Add("Name", a.creds.Username).
		Add("Password", a.creds.Password).
		Add("ClientId", a.creds.MerchantID).
		Add("Type", txnType).
		Add("IPAddress", tx.Customer.IP).
		Add("Email", tx.Customer.Email).
		Add("OrderId", tx.OrderID).
		Add("Total", amount).
		Add("Currency", currency).
		Add("Instalment", provider.InstallmentOrEmpty(tx.Installment)).
		Add("Number", card.Number).
		Add("Expires", card.Expiry).
		Add("Cvv2Val", card.CVV)
	return root, nil
}

// Direct posts a single non-3-D authorization.
func (a *Adapter) Direct(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	root, err := a.saleRequest(tx, card, "Auth")
	if err != nil {
		return err
	}
	result, err := a.sendCC5(ctx, tx, store.LogInit, root)
	if err != nil {
		return err
	}
	tx.Result = result
	return nil
}

// PreAuth places an authorization hold without capture.
func (a *Adapter) PreAuth(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	root, err := a.saleRequest(tx, card, "PreAuth")
	if err != nil {
		return err
	}
	result, err := a.sendCC5(ctx, tx, store.LogPreAuth, root)
	if err != nil {
		return err
	}
	tx.Result = result
	return nil
}

// PostAuth captures a previously placed hold.
func (a *Adapter) PostAuth(ctx context.Context, tx *store.Transaction) (*store.Result, error) {
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return nil, err
	}
	root := codec.NewXMLNode("CC5Request")
	root.Add("Name", a.creds.Username).
		Add("Password", a.creds.Password).
		Add("ClientId", a.creds.MerchantID).
		Add("Type", "PostAuth").
		Add("OrderId", tx.OrderID).
		Add("Total", provider.FormatAmount2(tx.Amount)).
		Add("Currency", currency)

	result, err := a.sendCC5(ctx, tx, store.LogPostAuth, root)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, payerr.Provider(result.Code, result.Message)
	}
	return result, nil
}

// History runs an order history inquiry. Each Extra child of the response is
// one historical operation row.
func (a *Adapter) History(ctx context.Context, tx *store.Transaction) ([]map[string]string, error) {
	root := codec.NewXMLNode("CC5Request")
	root.Add("Name", a.creds.Username).
		Add("Password", a.creds.Password).
		Add("ClientId", a.creds.MerchantID).
		Add("Type", "OrderHistory").
		Add("OrderId", tx.OrderID)

	xmlBody, err := codec.BuildXML(root, "UTF-8")
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, string(xmlBody), nil)

	fields := codec.NewFormValues()
	fields.Set("DATA", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, nil, string(resp.Body))

	parsed, err := codec.ParseXML(resp.Body)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProvider, "unparseable CC5 response", err)
	}
	if parsed.TextOf("Response") == "Error" {
		return nil, payerr.Provider(parsed.TextOf("ProcReturnCode"), parsed.TextOf("ErrMsg"))
	}

	header := map[string]string{
		"response": parsed.TextOf("Response"),
		"code":     parsed.TextOf("ProcReturnCode"),
	}
	rows := []map[string]string{header}
	if extra := parsed.Child("Extra"); extra != nil {
		for _, field := range extra.Children {
			header[field.Tag] = field.Text
		}
	}
	return rows, nil
}

// Capabilities reports the NestPay operation set.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Direct: true, Refund: true, Cancel: true, Status: true,
		History: true, PreAuth: true, PostAuth: true,
	}
}

// Refund sends a Credit against the original order.
func (a *Adapter) Refund(ctx context.Context, tx *store.Transaction, amount float64) (*store.Result, error) {
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return nil, err
	}
	root := codec.NewXMLNode("CC5Request")
	root.Add("Name", a.creds.Username).
		Add("Password", a.creds.Password).
		Add("ClientId", a.creds.MerchantID).
		Add("Type", "Credit").
		Add("OrderId", tx.OrderID).
		Add("Total", provider.FormatAmount2(amount)).
		Add("Currency", currency)

	result, err := a.sendCC5(ctx, tx, store.LogRefund, root)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, payerr.Provider(result.Code, result.Message)
	}
	return result, nil
}

// Cancel voids the original order.
func (a *Adapter) Cancel(ctx context.Context, tx *store.Transaction) (*store.Result, error) {
	root := codec.NewXMLNode("CC5Request")
	root.Add("Name", a.creds.Username).
		Add("Password", a.creds.Password).
		Add("ClientId", a.creds.MerchantID).
		Add("Type", "Void").
		Add("OrderId", tx.OrderID)

	result, err := a.sendCC5(ctx, tx, store.LogCancel, root)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, payerr.Provider(result.Code, result.Message)
	}
	return result, nil
}

// Status runs an order inquiry.
func (a *Adapter) Status(ctx context.Context, tx *store.Transaction) (map[string]string, error) {
	root := codec.NewXMLNode("CC5Request")
	root.Add("Name", a.creds.Username).
		Add("Password", a.creds.Password).
		Add("ClientId", a.creds.MerchantID).
		Add("Type", "OrderInquiry").
		Add("OrderId", tx.OrderID)

	xmlBody, err := codec.BuildXML(root, "UTF-8")
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, string(xmlBody), nil)

	fields := codec.NewFormValues()
	fields.Set("DATA", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, nil, string(resp.Body))

	parsed, err := codec.ParseXML(resp.Body)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProvider, "unparseable CC5 response", err)
	}
	return map[string]string{
		"response":  parsed.TextOf("Response"),
		"code":      parsed.TextOf("ProcReturnCode"),
		"message":   parsed.TextOf("ErrMsg"),
		"authCode":  parsed.TextOf("AuthCode"),
		"refNumber": parsed.TextOf("TransId"),
	}, nil
}
