package ykb

import (
	"context"
	"strings"
	"testing"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/store"
)

const (
	testStoreKey = "10,10,10,10,10,10,10,10"

	// 3DES-CBC over "7000679;30691298;;0;00000000000000000042;0;0;;;;1;1;;202403141516;TL"
	// padded with 0x00, key = md5-upper(storeKey)[:24], IV = 0123456789ABCDEF.
	packetIV   = "0123456789ABCDEF"
	packetBody = "910F35DC60E84CF0F258FF4077365F2DE4822448570A56017A3F832F59422CAEC7D424A09353591A906D9A96C51034CF9347616B4DF057D5235AB33A92D4EC554B45F3A1A5E42A28"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	term := &store.Terminal{Company: "acme", BankCode: store.BankYapiKredi, Provider: "ykb"}
	creds := store.Credentials{MerchantID: "7000679", TerminalID: "30691298", Username: "9644"}
	a := &Adapter{}
	if err := a.Init(term, creds, testStoreKey, "https://pay.example.com"); err != nil {
		t.Fatal(err)
	}
	return a
}

func testTx() *store.Transaction {
	return &store.Transaction{
		ID:          "tx-1",
		OrderID:     "42",
		Amount:      150.00,
		Currency:    "try",
		Installment: 1,
	}
}

func TestPacketKey(t *testing.T) {
	// md5("10,10,...") = A29EA51EE8835738CF4F05333157E881, first 24 chars.
	if got := string(packetKey(testStoreKey)); got != "A29EA51EE8835738CF4F0533" {
		t.Errorf("packetKey = %q", got)
	}
}

func TestDecryptMerchantPacketFullFrame(t *testing.T) {
	packet, err := decryptMerchantPacket(packetIV+packetBody, testStoreKey)
	if err != nil {
		t.Fatal(err)
	}
	if packet.MID() != "7000679" {
		t.Errorf("mid = %q", packet.MID())
	}
	if packet.TID() != "30691298" {
		t.Errorf("tid = %q", packet.TID())
	}
	if packet.XID() != "00000000000000000042" {
		t.Errorf("xid = %q", packet.XID())
	}
	if packet.MDStatus() != "1" {
		t.Errorf("tds_md_status = %q", packet.MDStatus())
	}
	if packet.TranTime() != "202403141516" {
		t.Errorf("trantime = %q", packet.TranTime())
	}
	if packet.Currency() != "TL" {
		t.Errorf("currency = %q", packet.Currency())
	}
}

func TestDecryptMerchantPacketMinus8Frame(t *testing.T) {
	// Eight extra trailing hex chars leave the full frame misaligned; the
	// minus-8 variant recovers it.
	packet, err := decryptMerchantPacket(packetIV+packetBody+"ABCDEF01", testStoreKey)
	if err != nil {
		t.Fatal(err)
	}
	if packet.XID() != "00000000000000000042" || packet.MDStatus() != "1" {
		t.Errorf("packet = %+v", packet.Fields)
	}
}

func TestDecryptMerchantPacketMinus16Frame(t *testing.T) {
	// Sixteen undecodable trailing chars knock out the first two variants.
	packet, err := decryptMerchantPacket(packetIV+packetBody+"GHIJKLMNGHIJKLMN", testStoreKey)
	if err != nil {
		t.Fatal(err)
	}
	if packet.XID() != "00000000000000000042" || packet.Currency() != "TL" {
		t.Errorf("packet = %+v", packet.Fields)
	}
}

func TestDecryptMerchantPacketErrors(t *testing.T) {
	// Shorter than the IV.
	if _, err := decryptMerchantPacket("0123456789ABCDEF", testStoreKey); payerr.KindOf(err) != payerr.KindCrypto {
		t.Errorf("short packet = %v, want crypto_error", err)
	}
	// Valid hex that decrypts to garbage without enough fields.
	if _, err := decryptMerchantPacket(packetIV+"00112233445566778899AABBCCDDEEFF", testStoreKey); payerr.KindOf(err) != payerr.KindCrypto {
		t.Errorf("garbage packet = %v, want crypto_error", err)
	}
	// Wrong store key cannot produce a parsable payload.
	if _, err := decryptMerchantPacket(packetIV+packetBody, "wrong-key"); payerr.KindOf(err) != payerr.KindCrypto {
		t.Errorf("wrong key = %v, want crypto_error", err)
	}
}

func TestProvisionMACGolden(t *testing.T) {
	got := provisionMAC("00000000000000000042", "15000", "TL", "7000679", "30691298", testStoreKey)
	want := "EHBcuUcU2RKXxHVoHuyiaFNUrcMajsoBYWt1Z4jBQ08="
	if got != want {
		t.Errorf("mac = %s, want %s", got, want)
	}
}

func TestProvisionMACEscapesPlus(t *testing.T) {
	// This input's base64 MAC carries a '+', which must leave as %2B.
	got := provisionMAC("00000000000000000042", "10000", "TL", "7000679", "30691298", testStoreKey)
	want := "xc1fNuPPfgvbc25c8%2Btq7BpRQTxNj9gn0JcJbIeABq8="
	if got != want {
		t.Errorf("mac = %s, want %s", got, want)
	}
	if strings.Contains(got, "+") {
		t.Error("mac still contains a raw plus")
	}
}

func TestAcceptedTDSStatuses(t *testing.T) {
	for _, status := range []string{"0", "3", "5", "6", "7", "8", ""} {
		if acceptedTDSStatuses[status] {
			t.Errorf("status %q must not be accepted", status)
		}
	}
	for _, status := range []string{"1", "2", "4", "9"} {
		if !acceptedTDSStatuses[status] {
			t.Errorf("status %q must be accepted", status)
		}
	}
}

func TestFormHTML(t *testing.T) {
	a := testAdapter(t)
	tx := testTx()
	tx.Secure.FormData = map[string]string{"data1": "D1", "data2": "D2", "sign": "SIG", "xid": "00000000000000000042"}

	html, err := a.FormHTML(tx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, `action="https://posnet.yapikredi.com.tr/3DSWebService/YKBPaymentService"`) {
		t.Error("form does not target the YKB payment service")
	}
	if !strings.Contains(html, `name="posnetData" value="D1"`) {
		t.Error("posnetData missing")
	}
	if !strings.Contains(html, `name="merchantReturnURL" value="https://pay.example.com/payment/tx-1/callback"`) {
		t.Error("merchantReturnURL missing")
	}

	empty := testTx()
	if _, err := a.FormHTML(empty); payerr.KindOf(err) != payerr.KindState {
		t.Errorf("FormHTML without form data = %v, want state error", err)
	}
}

func TestRefundWithoutHostLogKey(t *testing.T) {
	a := testAdapter(t)
	tx := testTx()
	if _, err := a.Refund(context.Background(), tx, 150.00); payerr.KindOf(err) != payerr.KindState {
		t.Errorf("refund without host log key = %v, want state error", err)
	}
	if _, err := a.Cancel(context.Background(), tx); payerr.KindOf(err) != payerr.KindState {
		t.Errorf("cancel without host log key = %v, want state error", err)
	}
}

func TestStripPacketPadding(t *testing.T) {
	in := []byte{'T', 'L', 0x00, 0x00, 0x03, 0x08}
	if got := string(stripPacketPadding(in)); got != "TL" {
		t.Errorf("stripPacketPadding = %q", got)
	}
	if got := string(stripPacketPadding([]byte("TL"))); got != "TL" {
		t.Errorf("no-padding input changed: %q", got)
	}
}
