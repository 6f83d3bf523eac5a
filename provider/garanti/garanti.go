// Package garanti implements the Garanti BBVA GVP virtual POS protocol,
// API version 512: SHA-512 hash chains over an SHA-1 terminal secret,
// ISO-8859-9 GVPSRequest XML, and a hosted 3-D form posting to the GVP
// gate servlet.
package garanti

import (
	"context"
	"strings"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/infra/crypto"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

const (
	apiVersion = "512"

	prodGateURL = "https://sanalposprov.garanti.com.tr/servlet/gt3dengine"
	testGateURL = "https://sanalposprovtest.garanti.com.tr/servlet/gt3dengine"
	prodAPIURL  = "https://sanalposprov.garanti.com.tr/VPServlet"
	testAPIURL  = "https://sanalposprovtest.garanti.com.tr/VPServlet"
)

// Adapter drives the GVP protocol for one terminal.
type Adapter struct {
	provider.NotSupported

	term         *store.Terminal
	creds        store.Credentials
	storeKey     string
	callbackBase string
	mode         string
	gateURL      string
	apiURL       string
	client       *provider.HTTPClient
}

// NewAdapter creates an unbound Garanti adapter.
func NewAdapter() provider.Adapter { return &Adapter{} }

// Init binds the adapter to a terminal.
func (a *Adapter) Init(term *store.Terminal, creds store.Credentials, storeKey, callbackBase string) error {
	if creds.MerchantID == "" || creds.TerminalID == "" || creds.Password == "" {
		return payerr.New(payerr.KindValidation, "garanti terminal needs merchantId, terminalId and password")
	}
	a.term = term
	a.creds = creds
	a.storeKey = storeKey
	a.callbackBase = callbackBase
	a.mode = "PROD"
	a.gateURL = prodGateURL
	a.apiURL = prodAPIURL
	if term.TestMode {
		a.mode = "test"
		a.gateURL = testGateURL
		a.apiURL = testAPIURL
	}
	a.client = provider.NewHTTPClient(&provider.HTTPClientConfig{
		InsecureSkipVerify: term.InsecureSkipVerify,
	})
	return nil
}

// terminalHash is the SHA-1 secret the SHA-512 request hashes chain over.
func terminalHash(password, terminalID string) string {
	return crypto.Sha1HexUpper(password + "0" + terminalID)
}

// formHash signs the 3-D form fields.
func formHash(terminalID, orderID, amount, currency, successURL, errorURL, txnType, installment, storeKey, hp string) string {
	return crypto.Sha512HexUpper(terminalID + orderID + amount + currency + successURL + errorURL + txnType + installment + storeKey + hp)
}

// provisionHash signs the GVPSRequest. cardNumber is empty for 3-D
// completion; direct sales include the PAN.
func provisionHash(orderID, terminalID, cardNumber, amount, currency, hp string) string {
	return crypto.Sha512HexUpper(orderID + terminalID + cardNumber + amount + currency + hp)
}

// Initialize prepares the 3-D form fields for the GVP gate.
func (a *Adapter) Initialize(_ context.Context, tx *store.Transaction, card store.ClearCard) error {
	amount := provider.FormatAmountCents(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	month, year, err := provider.ParseExpiry(card.Expiry)
	if err != nil {
		return err
	}
	installment := provider.InstallmentOrEmpty(tx.Installment)
	callbackURL := provider.CallbackURL(a.callbackBase, tx.ID)

	hp := terminalHash(a.creds.Password, a.creds.TerminalID)
	hash := formHash(a.creds.TerminalID, tx.OrderID, amount, currency, callbackURL, callbackURL, "sales", installment, a.storeKey, hp)

	form := map[string]string{
		"mode":                  a.mode,
		"apiversion":            apiVersion,
		"terminalprovuserid":    a.creds.Username,
		"terminaluserid":        a.creds.Username,
		"terminalmerchantid":    a.creds.MerchantID,
		"terminalid":            a.creds.TerminalID,
		"orderid":               tx.OrderID,
		"txntype":               "sales",
		"txnamount":             amount,
		"txncurrencycode":       currency,
		"txninstallmentcount":   installment,
		"successurl":            callbackURL,
		"errorurl":              callbackURL,
		"customeremailaddress":  tx.Customer.Email,
		"customeripaddress":     tx.Customer.IP,
		"secure3dsecuritylevel": "3D",
		"secure3dhash":          hash,
		"cardnumber":            card.Number,
		"cardexpiredatemonth":   month,
		"cardexpiredateyear":    year,
		"cardcvv2":              card.CVV,
		"lang":                  "tr",
	}

	tx.Secure.Provider = "garanti"
	tx.Secure.FormData = form
	tx.AppendLog(store.LogInit, map[string]string{"orderid": tx.OrderID, "txnamount": amount, "secure3dhash": hash}, nil)
	return nil
}

// formFieldOrder fixes the field order of the hosted form post.
var formFieldOrder = []string{
	"mode", "apiversion", "terminalprovuserid", "terminaluserid",
	"terminalmerchantid", "terminalid", "orderid", "txntype", "txnamount",
	"txncurrencycode", "txninstallmentcount", "successurl", "errorurl",
	"customeremailaddress", "customeripaddress", "secure3dsecuritylevel",
	"secure3dhash", "cardnumber", "cardexpiredatemonth", "cardexpiredateyear",
	"cardcvv2", "lang",
}

// FormHTML renders the auto-submit redirect to the GVP gate.
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

// acceptedMDStatuses: GVP only treats full authentication as safe.
var acceptedMDStatuses = map[string]bool{"1": true}

// Callback verifies the gate's return post and runs the provision when the
// 3-D authentication passed.
func (a *Adapter) Callback(ctx context.Context, tx *store.Transaction, params map[string]string, _ store.ClearCard) error {
	tx.AppendLog(store.Log3DCallback, nil, params)
	tx.Secure.Callback = params
	tx.Secure.MD = params["md"]
	tx.Secure.ECI = params["eci"]
	tx.Secure.CAVV = params["cavv"]

	mdStatus := params["mdstatus"]
	if !acceptedMDStatuses[mdStatus] {
		message := params["mderrormessage"]
		if message == "" {
			message = "3D authentication failed"
		}
		tx.Result = &store.Result{Success: false, Code: "MDSTATUS_" + mdStatus, Message: message}
		return nil
	}
	return a.provision(ctx, tx, params)
}

func (a *Adapter) provision(ctx context.Context, tx *store.Transaction, params map[string]string) error {
	amount := provider.FormatAmountCents(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	hp := terminalHash(a.creds.Password, a.creds.TerminalID)
	hash := provisionHash(tx.OrderID, a.creds.TerminalID, "", amount, currency, hp)

	root := codec.NewXMLNode("GVPSRequest")
	root.Add("Mode", a.mode).Add("Version", apiVersion)

	terminal := codec.NewXMLNode("Terminal")
	terminal.Add("ProvUserID", a.creds.Username).
		Add("HashData", hash).
		Add("UserID", a.creds.Username).
		Add("ID", a.creds.TerminalID).
		Add("MerchantID", a.creds.MerchantID)
	root.AddNode(terminal)

	customer := codec.NewXMLNode("Customer")
	customer.Add("IPAddress", tx.Customer.IP).Add("EmailAddress", tx.Customer.Email)
	root.AddNode(customer)

	// Card stays empty on 3-D completion; the issuer already saw it.
	card := codec.NewXMLNode("Card")
	card.Add("Number", "").Add("ExpireDate", "").Add("CVV2", "")
	root.AddNode(card)

	order := codec.NewXMLNode("Order")
	order.Add("OrderID", tx.OrderID)
	root.AddNode(order)

	secure3d := codec.NewXMLNode("Secure3D")
	secure3d.Add("AuthenticationCode", params["cavv"]).
		Add("SecurityLevel", params["eci"]).
		Add("TxnID", params["xid"]).
		Add("Md", params["md"])

	transaction := codec.NewXMLNode("Transaction")
	transaction.Add("Type", "sales").
		Add("InstallmentCnt", provider.InstallmentOrEmpty(tx.Installment)).
		Add("Amount", amount).
		Add("CurrencyCode", currency).
		Add("CardholderPresentCode", "13").
		Add("MotoInd", "N")
	transaction.AddNode(secure3d)
	root.AddNode(transaction)

	xmlBody, err := codec.BuildXML(root, "ISO-8859-9")
	if err != nil {
		return err
	}

	tx.AppendLog(store.LogProvision, string(xmlBody), nil)

	fields := codec.NewFormValues()
	fields.Set("data", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogProvision, nil, string(resp.Body))

	return a.parseProvisionResponse(tx, resp.Body)
}

func (a *Adapter) parseProvisionResponse(tx *store.Transaction, body []byte) error {
	root, err := codec.ParseXML(body)
	if err != nil {
		return payerr.Wrap(payerr.KindProvider, "unparseable GVP response", err)
	}

	message := root.TextOf("Transaction", "Response", "Message")
	code := root.TextOf("Transaction", "Response", "ReasonCode")
	if strings.EqualFold(message, "Approved") {
		tx.Result = &store.Result{
			Success:   true,
			Code:      code,
			Message:   message,
			AuthCode:  root.TextOf("Transaction", "AuthCode"),
			RefNumber: root.TextOf("Transaction", "RetrefNum"),
		}
		return nil
	}

	errMsg := root.TextOf("Transaction", "Response", "ErrorMsg")
	if errMsg == "" {
		errMsg = root.TextOf("Transaction", "Response", "SysErrMsg")
	}
	if errMsg == "" {
		errMsg = message
	}
	tx.Result = &store.Result{Success: false, Code: code, Message: errMsg}
	return nil
}

// inverse runs a refund or void GVPSRequest against the original order.
func (a *Adapter) inverse(ctx context.Context, tx *store.Transaction, txnType string, amount float64) (*store.Result, error) {
	amountStr := provider.FormatAmountCents(amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return nil, err
	}
	hp := terminalHash(a.creds.Password, a.creds.TerminalID)
	hash := provisionHash(tx.OrderID, a.creds.TerminalID, "", amountStr, currency, hp)

	root := codec.NewXMLNode("GVPSRequest")
	root.Add("Mode", a.mode).Add("Version", apiVersion)

	terminal := codec.NewXMLNode("Terminal")
	terminal.Add("ProvUserID", "PROVRFN").
		Add("HashData", hash).
		Add("UserID", "PROVRFN").
		Add("ID", a.creds.TerminalID).
		Add("MerchantID", a.creds.MerchantID)
	root.AddNode(terminal)

	customer := codec.NewXMLNode("Customer")
	customer.Add("IPAddress", tx.Customer.IP).Add("EmailAddress", tx.Customer.Email)
	root.AddNode(customer)

	order := codec.NewXMLNode("Order")
	order.Add("OrderID", tx.OrderID)
	root.AddNode(order)

	transaction := codec.NewXMLNode("Transaction")
	transaction.Add("Type", txnType).
		Add("Amount", amountStr).
		Add("CurrencyCode", currency).
		Add("CardholderPresentCode", "0").
		Add("MotoInd", "N").
		Add("OriginalRetrefNum", refNumber(tx))
	root.AddNode(transaction)

	xmlBody, err := codec.BuildXML(root, "ISO-8859-9")
	if err != nil {
		return nil, err
	}

	logType := store.LogRefund
	if txnType == "void" {
		logType = store.LogCancel
	}
	tx.AppendLog(logType, string(xmlBody), nil)

	fields := codec.NewFormValues()
	fields.Set("data", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(logType, nil, string(resp.Body))

	root, err = codec.ParseXML(resp.Body)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProvider, "unparseable GVP response", err)
	}
	message := root.TextOf("Transaction", "Response", "Message")
	code := root.TextOf("Transaction", "Response", "ReasonCode")
	if !strings.EqualFold(message, "Approved") {
		return nil, payerr.Provider(code, message)
	}
	return &store.Result{
		Success:   true,
		Code:      code,
		Message:   message,
		AuthCode:  root.TextOf("Transaction", "AuthCode"),
		RefNumber: root.TextOf("Transaction", "RetrefNum"),
	}, nil
}

// Direct posts a single non-3-D sale. The provision hash covers the PAN and
// the cardholder-present code switches to MOTO.
func (a *Adapter) Direct(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	amount := provider.FormatAmountCents(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return err
	}
	expiry, err := provider.ExpiryMMYY(card.Expiry)
	if err != nil {
		return err
	}
	hp := terminalHash(a.creds.Password, a.creds.TerminalID)
	hash := provisionHash(tx.OrderID, a.creds.TerminalID, card.Number, amount, currency, hp)

	root := codec.NewXMLNode("GVPSRequest")
	root.Add("Mode", a.mode).Add("Version", apiVersion)

	terminal := codec.NewXMLNode("Terminal")
	terminal.Add("ProvUserID", a.creds.Username).
		Add("HashData", hash).
		Add("UserID", a.creds.Username).
		Add("ID", a.creds.TerminalID).
		Add("MerchantID", a.creds.MerchantID)
	root.AddNode(terminal)

	customer := codec.NewXMLNode("Customer")
	customer.Add("IPAddress", tx.Customer.IP).Add("EmailAddress", tx.Customer.Email)
	root.AddNode(customer)

	cardNode := codec.NewXMLNode("Card")
	cardNode.Add("Number", card.Number).Add("ExpireDate", expiry).Add("CVV2", card.CVV)
	root.AddNode(cardNode)

	order := codec.NewXMLNode("Order")
	order.Add("OrderID", tx.OrderID)
	root.AddNode(order)

	transaction := codec.NewXMLNode("Transaction")
	transaction.Add("Type", "sales").
		Add("InstallmentCnt", provider.InstallmentOrEmpty(tx.Installment)).
		Add("Amount", amount).
		Add("CurrencyCode", currency).
		Add("CardholderPresentCode", "0").
		Add("MotoInd", "H")
	root.AddNode(transaction)

	xmlBody, err := codec.BuildXML(root, "ISO-8859-9")
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogInit, provider.RedactCard(string(xmlBody)), nil)

	fields := codec.NewFormValues()
	fields.Set("data", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogInit, nil, string(resp.Body))

	return a.parseProvisionResponse(tx, resp.Body)
}

// Capabilities reports the GVP operation set.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{Direct: true, Refund: true, Cancel: true, Status: true}
}

// Refund refunds amount against a captured sale.
func (a *Adapter) Refund(ctx context.Context, tx *store.Transaction, amount float64) (*store.Result, error) {
	return a.inverse(ctx, tx, "refund", amount)
}

// Cancel voids a same-day sale.
func (a *Adapter) Cancel(ctx context.Context, tx *store.Transaction) (*store.Result, error) {
	return a.inverse(ctx, tx, "void", tx.Amount)
}

// Status runs an order inquiry.
func (a *Adapter) Status(ctx context.Context, tx *store.Transaction) (map[string]string, error) {
	amount := provider.FormatAmountCents(tx.Amount)
	currency, err := provider.NumericCurrency(tx.Currency)
	if err != nil {
		return nil, err
	}
	hp := terminalHash(a.creds.Password, a.creds.TerminalID)
	hash := provisionHash(tx.OrderID, a.creds.TerminalID, "", amount, currency, hp)

	root := codec.NewXMLNode("GVPSRequest")
	root.Add("Mode", a.mode).Add("Version", apiVersion)

	terminal := codec.NewXMLNode("Terminal")
	terminal.Add("ProvUserID", a.creds.Username).
		Add("HashData", hash).
		Add("UserID", a.creds.Username).
		Add("ID", a.creds.TerminalID).
		Add("MerchantID", a.creds.MerchantID)
	root.AddNode(terminal)

	order := codec.NewXMLNode("Order")
	order.Add("OrderID", tx.OrderID)
	root.AddNode(order)

	transaction := codec.NewXMLNode("Transaction")
	transaction.Add("Type", "orderinq").
		Add("Amount", amount).
		Add("CurrencyCode", currency)
	root.AddNode(transaction)

	xmlBody, err := codec.BuildXML(root, "ISO-8859-9")
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, string(xmlBody), nil)

	fields := codec.NewFormValues()
	fields.Set("data", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, nil, string(resp.Body))

	parsed, err := codec.ParseXML(resp.Body)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProvider, "unparseable GVP response", err)
	}
	return map[string]string{
		"message":   parsed.TextOf("Transaction", "Response", "Message"),
		"code":      parsed.TextOf("Transaction", "Response", "ReasonCode"),
		"authCode":  parsed.TextOf("Transaction", "AuthCode"),
		"refNumber": parsed.TextOf("Transaction", "RetrefNum"),
		"status":    parsed.TextOf("Order", "OrderInqResult", "Status"),
	}, nil
}

func refNumber(tx *store.Transaction) string {
	if tx.Result != nil {
		return tx.Result.RefNumber
	}
	return ""
}
