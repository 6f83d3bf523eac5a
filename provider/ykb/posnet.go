// Package ykb implements the Yapı Kredi POSNET protocol: xmldata form posts
// with ISO-8859-9 XML, a server-side 3-D initialization (oosRequestData), a
// Triple-DES-CBC encrypted callback packet, and a SHA-256 MAC on the
// provisioning call.
package ykb

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/infra/crypto"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

const (
	prodAPIURL  = "https://posnet.yapikredi.com.tr/PosnetWebService/XML"
	testAPIURL  = "https://setmpos.ykb.com/PosnetWebService/XML"
	prodGateURL = "https://posnet.yapikredi.com.tr/3DSWebService/YKBPaymentService"
	testGateURL = "https://setmpos.ykb.com/3DSWebService/YKBPaymentService"
)

// merchantPacketFieldCount is the minimum field count a decrypted packet
// must parse into to be considered genuine.
const merchantPacketFieldCount = 12

// acceptedTDSStatuses per POSNET: full auth, attempts and the 9 pre-check.
var acceptedTDSStatuses = map[string]bool{"1": true, "2": true, "4": true, "9": true}

// Adapter drives the POSNET protocol for one terminal.
type Adapter struct {
	provider.NotSupported

	term         *store.Terminal
	creds        store.Credentials
	storeKey     string
	callbackBase string
	apiURL       string
	gateURL      string
	client       *provider.HTTPClient
}

// NewAdapter creates an unbound POSNET adapter.
func NewAdapter() provider.Adapter { return &Adapter{} }

// Init binds the adapter to a terminal. The POSNET id rides in the
// credentials username field.
func (a *Adapter) Init(term *store.Terminal, creds store.Credentials, storeKey, callbackBase string) error {
	if creds.MerchantID == "" || creds.TerminalID == "" || creds.Username == "" {
		return payerr.New(payerr.KindValidation, "posnet terminal needs merchantId, terminalId and posnet id")
	}
	if storeKey == "" {
		return payerr.New(payerr.KindValidation, "posnet terminal needs an encryption key")
	}
	a.term = term
	a.creds = creds
	a.storeKey = storeKey
	a.callbackBase = callbackBase
	a.apiURL, a.gateURL = prodAPIURL, prodGateURL
	if term.TestMode {
		a.apiURL, a.gateURL = testAPIURL, testGateURL
	}
	a.client = provider.NewHTTPClient(&provider.HTTPClientConfig{
		InsecureSkipVerify: term.InsecureSkipVerify,
	})
	return nil
}

// postXML sends a posnetRequest document as the xmldata form field.
func (a *Adapter) postXML(ctx context.Context, root *codec.XMLNode) (*codec.XMLNode, []byte, error) {
	xmlBody, err := codec.BuildXML(root, "ISO-8859-9")
	if err != nil {
		return nil, nil, err
	}
	fields := codec.NewFormValues()
	fields.Set("xmldata", string(xmlBody))
	resp, err := a.client.SendForm(ctx, &provider.HTTPRequest{Endpoint: a.apiURL, Form: fields})
	if err != nil {
		return nil, xmlBody, err
	}
	parsed, err := codec.ParseXML(resp.Body)
	if err != nil {
		return nil, xmlBody, payerr.Wrap(payerr.KindProvider, "unparseable posnet response", err)
	}
	return parsed, resp.Body, nil
}

// Initialize runs the server-side oosRequestData call and stores the
// returned redirect packets.
func (a *Adapter) Initialize(ctx context.Context, tx *store.Transaction, card store.ClearCard) error {
	amount := provider.FormatAmountCents(tx.Amount)
	currency, err := provider.PosnetCurrency(tx.Currency)
	if err != nil {
		return err
	}
	expiry, err := provider.ExpiryYYMM(card.Expiry)
	if err != nil {
		return err
	}
	xid := provider.PosnetOrderID(tx.OrderID)

	oos := codec.NewXMLNode("oosRequestData")
	oos.Add("posnetid", a.creds.Username).
		Add("XID", xid).
		Add("amount", amount).
		Add("currencyCode", currency).
		Add("installment", provider.PosnetInstallment(tx.Installment)).
		Add("tranType", "Sale").
		Add("cardHolderName", card.Holder).
		Add("ccno", card.Number).
		Add("expDate", expiry).
		Add("cvc", card.CVV)

	root := codec.NewXMLNode("posnetRequest")
	root.Add("mid", a.creds.MerchantID).Add("tid", a.creds.TerminalID)
	root.AddNode(oos)

	tx.AppendLog(store.LogInit, map[string]string{"XID": xid, "amount": amount, "currencyCode": currency}, nil)

	parsed, raw, err := a.postXML(ctx, root)
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogInit, nil, string(raw))

	if parsed.TextOf("approved") != "1" {
		return payerr.Provider(parsed.TextOf("respCode"), parsed.TextOf("respText"))
	}

	tx.Secure.Provider = "ykb"
	tx.Secure.FormData = map[string]string{
		"data1": parsed.TextOf("oosRequestDataResponse", "data1"),
		"data2": parsed.TextOf("oosRequestDataResponse", "data2"),
		"sign":  parsed.TextOf("oosRequestDataResponse", "sign"),
		"xid":   xid,
	}
	return nil
}

// FormHTML renders the auto-submit redirect to the YKB payment service.
func (a *Adapter) FormHTML(tx *store.Transaction) (string, error) {
	form := tx.Secure.FormData
	if len(form) == 0 {
		return "", payerr.New(payerr.KindState, "transaction has no 3-D form data")
	}
	callbackURL := provider.CallbackURL(a.callbackBase, tx.ID)

	fields := codec.NewFormValues()
	fields.Set("mid", a.creds.MerchantID).
		Set("posnetID", a.creds.Username).
		Set("posnetData", form["data1"]).
		Set("posnetData2", form["data2"]).
		Set("digest", form["sign"]).
		Set("merchantReturnURL", callbackURL).
		Set("url", a.callbackBase).
		Set("lang", "tr").
		Set("openANewWindow", "0")

	tx.AppendLog(store.Log3DForm, map[string]string{"action": a.gateURL}, nil)
	return provider.AutoSubmitForm(a.gateURL, fields), nil
}

// packetKey derives the Triple-DES key from the terminal encryption key:
// the first 24 characters of the uppercase MD5 hex, taken as raw bytes.
func packetKey(storeKey string) []byte {
	return []byte(crypto.MD5HexUpper(storeKey)[:24])
}

// merchantPacket is the decrypted callback payload.
type merchantPacket struct {
	Fields []string
}

func (p *merchantPacket) at(i int) string {
	if i < len(p.Fields) {
		return p.Fields[i]
	}
	return ""
}

func (p *merchantPacket) MID() string          { return p.at(0) }
func (p *merchantPacket) TID() string          { return p.at(1) }
func (p *merchantPacket) Amount() string       { return p.at(2) }
func (p *merchantPacket) Installment() string  { return p.at(3) }
func (p *merchantPacket) XID() string          { return p.at(4) }
func (p *merchantPacket) TxStatus() string     { return p.at(10) }
func (p *merchantPacket) MDStatus() string     { return p.at(11) }
func (p *merchantPacket) MDErrorMessage() string { return p.at(12) }
func (p *merchantPacket) TranTime() string     { return p.at(13) }
func (p *merchantPacket) Currency() string     { return p.at(14) }

// decryptMerchantPacket opens the bank's encrypted callback packet. The
// first 16 hex characters are the CBC IV; the remainder is ciphertext, but
// historical bank frames sometimes carry 8 or 16 trailing hex characters of
// padding, so three extraction variants are tried and the first plaintext
// that parses into enough semicolon fields wins.
func decryptMerchantPacket(packet, storeKey string) (*merchantPacket, error) {
	if len(packet) <= 16 {
		return nil, payerr.New(payerr.KindCrypto, "merchant packet shorter than its IV")
	}
	iv, err := hex.DecodeString(packet[:16])
	if err != nil {
		return nil, payerr.Wrap(payerr.KindCrypto, "merchant packet IV is not hex", err)
	}
	key := packetKey(storeKey)
	remainder := packet[16:]

	variants := []string{remainder}
	if len(remainder) > 8 {
		variants = append(variants, remainder[:len(remainder)-8])
	}
	if len(remainder) > 16 {
		variants = append(variants, remainder[:len(remainder)-16])
	}

	for _, variant := range variants {
		data, err := hex.DecodeString(variant)
		if err != nil {
			continue
		}
		clear, err := crypto.TDESDecryptCBC(data, key, iv)
		if err != nil {
			continue
		}
		clear = stripPacketPadding(clear)
		text := string(clear)
		if !strings.Contains(text, ";") {
			continue
		}
		fields := strings.Split(text, ";")
		if len(fields) >= merchantPacketFieldCount {
			return &merchantPacket{Fields: fields}, nil
		}
	}
	return nil, payerr.New(payerr.KindCrypto, "merchant packet did not decrypt to a parsable payload")
}

// stripPacketPadding removes the trailing 0x00–0x08 padding bytes.
func stripPacketPadding(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] <= 0x08 {
		end--
	}
	return data[:end]
}

// provisionMAC signs the oosTranData call. Any "+" in the final base64 is
// URL-escaped because the bank validates against the escaped form.
func provisionMAC(xid, amount, currency, mid, tid, storeKey string) string {
	hashedStoreKey := crypto.Sha256Base64(storeKey + ";" + tid)
	mac := crypto.Sha256Base64(xid + ";" + amount + ";" + currency + ";" + mid + ";" + hashedStoreKey)
	return strings.ReplaceAll(mac, "+", "%2B")
}

// Callback decrypts and validates the bank's packet, then provisions with
// the returned bank data.
func (a *Adapter) Callback(ctx context.Context, tx *store.Transaction, params map[string]string, _ store.ClearCard) error {
	tx.AppendLog(store.Log3DCallback, nil, params)
	tx.Secure.Callback = params

	packet, err := decryptMerchantPacket(params["MerchantPacket"], a.storeKey)
	if err != nil {
		return err
	}
	tx.Secure.Decrypted = map[string]string{
		"mid":                 packet.MID(),
		"tid":                 packet.TID(),
		"amount":              packet.Amount(),
		"installment":         packet.Installment(),
		"xid":                 packet.XID(),
		"tds_tx_status":       packet.TxStatus(),
		"tds_md_status":       packet.MDStatus(),
		"tds_md_errormessage": packet.MDErrorMessage(),
		"trantime":            packet.TranTime(),
		"currency":            packet.Currency(),
	}

	if !acceptedTDSStatuses[packet.MDStatus()] {
		message := packet.MDErrorMessage()
		if message == "" {
			message = "3D authentication failed"
		}
		tx.Result = &store.Result{Success: false, Code: "TDS_MD_STATUS_" + packet.MDStatus(), Message: message}
		return nil
	}
	return a.provision(ctx, tx, packet, params["BankPacket"])
}

func (a *Adapter) provision(ctx context.Context, tx *store.Transaction, packet *merchantPacket, bankData string) error {
	amount := provider.FormatAmountCents(tx.Amount)
	currency, err := provider.PosnetCurrency(tx.Currency)
	if err != nil {
		return err
	}
	mac := provisionMAC(packet.XID(), amount, currency, a.creds.MerchantID, a.creds.TerminalID, a.storeKey)

	oos := codec.NewXMLNode("oosTranData")
	oos.Add("bankData", bankData).Add("mac", mac)

	root := codec.NewXMLNode("posnetRequest")
	root.Add("mid", a.creds.MerchantID).Add("tid", a.creds.TerminalID)
	root.AddNode(oos)

	tx.AppendLog(store.LogProvision, map[string]string{"xid": packet.XID(), "mac": mac}, nil)

	parsed, raw, err := a.postXML(ctx, root)
	if err != nil {
		return err
	}
	tx.AppendLog(store.LogProvision, nil, string(raw))

	if parsed.TextOf("approved") != "1" {
		tx.Result = &store.Result{
			Success: false,
			Code:    parsed.TextOf("respCode"),
			Message: parsed.TextOf("respText"),
		}
		return nil
	}
	tx.Result = &store.Result{
		Success:   true,
		Code:      "00",
		Message:   "Approved",
		AuthCode:  parsed.TextOf("authCode"),
		RefNumber: parsed.TextOf("hostlogkey"),
	}
	return nil
}

// Refund sends a return transaction keyed by the captured host log key.
func (a *Adapter) Refund(ctx context.Context, tx *store.Transaction, amount float64) (*store.Result, error) {
	currency, err := provider.PosnetCurrency(tx.Currency)
	if err != nil {
		return nil, err
	}
	hostLogKey := refNumber(tx)
	if hostLogKey == "" {
		return nil, payerr.New(payerr.KindState, "transaction has no host log key to refund against")
	}

	ret := codec.NewXMLNode("return")
	ret.Add("amount", provider.FormatAmountCents(amount)).
		Add("currencyCode", currency).
		Add("hostLogKey", hostLogKey)

	root := codec.NewXMLNode("posnetRequest")
	root.Add("mid", a.creds.MerchantID).Add("tid", a.creds.TerminalID)
	root.AddNode(ret)

	tx.AppendLog(store.LogRefund, map[string]string{"hostLogKey": hostLogKey}, nil)
	parsed, raw, err := a.postXML(ctx, root)
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogRefund, nil, string(raw))

	if parsed.TextOf("approved") != "1" {
		return nil, payerr.Provider(parsed.TextOf("respCode"), parsed.TextOf("respText"))
	}
	return &store.Result{
		Success:   true,
		Code:      "00",
		Message:   "Approved",
		AuthCode:  parsed.TextOf("authCode"),
		RefNumber: parsed.TextOf("hostlogkey"),
	}, nil
}

// Cancel reverses the original sale.
func (a *Adapter) Cancel(ctx context.Context, tx *store.Transaction) (*store.Result, error) {
	hostLogKey := refNumber(tx)
	if hostLogKey == "" {
		return nil, payerr.New(payerr.KindState, "transaction has no host log key to reverse")
	}

	rev := codec.NewXMLNode("reverse")
	rev.Add("transaction", "sale").Add("hostLogKey", hostLogKey)

	root := codec.NewXMLNode("posnetRequest")
	root.Add("mid", a.creds.MerchantID).Add("tid", a.creds.TerminalID)
	root.AddNode(rev)

	tx.AppendLog(store.LogCancel, map[string]string{"hostLogKey": hostLogKey}, nil)
	parsed, raw, err := a.postXML(ctx, root)
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogCancel, nil, string(raw))

	if parsed.TextOf("approved") != "1" {
		return nil, payerr.Provider(parsed.TextOf("respCode"), parsed.TextOf("respText"))
	}
	return &store.Result{
		Success:   true,
		Code:      "00",
		Message:   "Approved",
		AuthCode:  parsed.TextOf("authCode"),
		RefNumber: parsed.TextOf("hostlogkey"),
	}, nil
}

// Status queries the order by its padded XID.
func (a *Adapter) Status(ctx context.Context, tx *store.Transaction) (map[string]string, error) {
	agr := codec.NewXMLNode("agreement")
	agr.Add("orderID", provider.PosnetOrderID(tx.OrderID))

	root := codec.NewXMLNode("posnetRequest")
	root.Add("mid", a.creds.MerchantID).Add("tid", a.creds.TerminalID)
	root.AddNode(agr)

	tx.AppendLog(store.LogStatus, map[string]string{"orderID": provider.PosnetOrderID(tx.OrderID)}, nil)
	parsed, raw, err := a.postXML(ctx, root)
	if err != nil {
		return nil, err
	}
	tx.AppendLog(store.LogStatus, nil, string(raw))

	return map[string]string{
		"approved": parsed.TextOf("approved"),
		"code":     parsed.TextOf("respCode"),
		"message":  parsed.TextOf("respText"),
	}, nil
}

func refNumber(tx *store.Transaction) string {
	if tx.Result != nil {
		return tx.Result.RefNumber
	}
	return ""
}

// Capabilities reports the POSNET operation set.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{Refund: true, Cancel: true, Status: true}
}
