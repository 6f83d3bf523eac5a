package garanti

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/store"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	term := &store.Terminal{
		Company:  "acme",
		BankCode: store.BankGaranti,
		Provider: "garanti",
		TestMode: false,
	}
	creds := store.Credentials{
		MerchantID: "7000679",
		TerminalID: "30691298",
		Username:   "PROVAUT",
		Password:   "123qweASD/",
	}
	a := &Adapter{}
	if err := a.Init(term, creds, "12345678", "https://pay.example.com"); err != nil {
		t.Fatal(err)
	}
	return a
}

func testTx() *store.Transaction {
	return &store.Transaction{
		ID:          "tx-1",
		OrderID:     "ORDER-1",
		Amount:      150.00,
		Currency:    "try",
		Installment: 1,
		Customer:    store.CustomerInfo{Email: "john@example.com", IP: "10.0.0.1"},
	}
}

func testCard() store.ClearCard {
	return store.ClearCard{Holder: "John Doe", Number: "4282209004348016", Expiry: "03/28", CVV: "358"}
}

func TestTerminalHashGolden(t *testing.T) {
	got := terminalHash("123qweASD/", "30691298")
	want := "1639636D00AB5EF0B3CE073BB222BFAAC2C2C38D"
	if got != want {
		t.Errorf("terminalHash = %s, want %s", got, want)
	}
}

func TestFormHashGolden(t *testing.T) {
	hp := terminalHash("123qweASD/", "30691298")
	cb := "https://pay.example.com/payment/tx-1/callback"
	got := formHash("30691298", "ORDER-1", "15000", "949", cb, cb, "sales", "", "12345678", hp)
	want := "CD6CF567E046F33DE2542AD3D5E5BCAAF8B609A82DDF5AB42E6979B6445C738BFA15EE4693F3AFAAE8489B92425DA657A248A1036FA7A93E1823186395E7572A"
	if got != want {
		t.Errorf("formHash = %s, want %s", got, want)
	}
}

func TestProvisionHashGolden(t *testing.T) {
	hp := terminalHash("123qweASD/", "30691298")
	got := provisionHash("ORDER-1", "30691298", "", "15000", "949", hp)
	want := "5EC0CF523342A191CCA4705C692872CE8272BD5495D64B0D63A00288139807295B5C86930FA79D905691DBFAEFD47920CF919636FC9FE4202D9DD9034976AB70"
	if got != want {
		t.Errorf("provisionHash = %s, want %s", got, want)
	}
}

func TestInitializePreparesFormData(t *testing.T) {
	a := testAdapter(t)
	tx := testTx()

	if err := a.Initialize(context.Background(), tx, testCard()); err != nil {
		t.Fatal(err)
	}

	form := tx.Secure.FormData
	if form["mode"] != "PROD" {
		t.Errorf("mode = %q", form["mode"])
	}
	if form["apiversion"] != "512" {
		t.Errorf("apiversion = %q", form["apiversion"])
	}
	if form["txnamount"] != "15000" {
		t.Errorf("txnamount = %q", form["txnamount"])
	}
	if form["txncurrencycode"] != "949" {
		t.Errorf("txncurrencycode = %q", form["txncurrencycode"])
	}
	if form["txninstallmentcount"] != "" {
		t.Errorf("single installment must be empty, got %q", form["txninstallmentcount"])
	}
	if form["successurl"] != "https://pay.example.com/payment/tx-1/callback" {
		t.Errorf("successurl = %q", form["successurl"])
	}
	wantHash := "CD6CF567E046F33DE2542AD3D5E5BCAAF8B609A82DDF5AB42E6979B6445C738BFA15EE4693F3AFAAE8489B92425DA657A248A1036FA7A93E1823186395E7572A"
	if form["secure3dhash"] != wantHash {
		t.Errorf("secure3dhash = %q", form["secure3dhash"])
	}
	if tx.Secure.Provider != "garanti" {
		t.Errorf("secure provider = %q", tx.Secure.Provider)
	}
	if len(tx.Logs) != 1 || tx.Logs[0].Type != store.LogInit {
		t.Errorf("init log missing: %+v", tx.Logs)
	}
}

func TestFormHTML(t *testing.T) {
	a := testAdapter(t)
	tx := testTx()
	if err := a.Initialize(context.Background(), tx, testCard()); err != nil {
		t.Fatal(err)
	}

	html, err := a.FormHTML(tx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, `action="https://sanalposprov.garanti.com.tr/servlet/gt3dengine"`) {
		t.Error("form does not target the GVP gate")
	}
	if !strings.Contains(html, `name="secure3dhash"`) {
		t.Error("secure3dhash field missing")
	}

	// No form data means the transaction is in the wrong state.
	empty := testTx()
	if _, err := a.FormHTML(empty); payerr.KindOf(err) != payerr.KindState {
		t.Errorf("FormHTML without form data = %v, want state error", err)
	}
}

func TestCallbackRejectsBadMDStatus(t *testing.T) {
	a := testAdapter(t)

	for _, mdStatus := range []string{"0", "2", "3", "4", "5", "7", ""} {
		tx := testTx()
		err := a.Callback(context.Background(), tx, map[string]string{
			"mdstatus":       mdStatus,
			"mderrormessage": "Kart dogrulanamadi",
		}, store.ClearCard{})
		if err != nil {
			t.Fatalf("mdstatus %q: %v", mdStatus, err)
		}
		if tx.Result == nil || tx.Result.Success {
			t.Errorf("mdstatus %q must be declined", mdStatus)
		}
		if tx.Result.Message != "Kart dogrulanamadi" {
			t.Errorf("message = %q", tx.Result.Message)
		}
	}
}

func TestParseProvisionResponse(t *testing.T) {
	a := testAdapter(t)

	approved := `<?xml version="1.0" encoding="ISO-8859-9"?><GVPSResponse>` +
		`<Transaction><Response><Message>Approved</Message><ReasonCode>00</ReasonCode></Response>` +
		`<AuthCode>304919</AuthCode><RetrefNum>207308693040</RetrefNum></Transaction></GVPSResponse>`
	tx := testTx()
	if err := a.parseProvisionResponse(tx, []byte(approved)); err != nil {
		t.Fatal(err)
	}
	if tx.Result == nil || !tx.Result.Success {
		t.Fatal("approved response not recognized")
	}
	if tx.Result.AuthCode != "304919" || tx.Result.RefNumber != "207308693040" {
		t.Errorf("result = %+v", tx.Result)
	}

	declined := `<?xml version="1.0" encoding="ISO-8859-9"?><GVPSResponse>` +
		`<Transaction><Response><Message>Declined</Message><ReasonCode>12</ReasonCode>` +
		`<ErrorMsg>Islem onaylanmadi</ErrorMsg></Response></Transaction></GVPSResponse>`
	tx = testTx()
	if err := a.parseProvisionResponse(tx, []byte(declined)); err != nil {
		t.Fatal(err)
	}
	if tx.Result == nil || tx.Result.Success {
		t.Fatal("declined response treated as success")
	}
	if tx.Result.Code != "12" || tx.Result.Message != "Islem onaylanmadi" {
		t.Errorf("result = %+v", tx.Result)
	}
}

func TestDirectSale(t *testing.T) {
	a := testAdapter(t)
	var request string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		request = r.Form.Get("data")
		w.Write([]byte(`<?xml version="1.0" encoding="ISO-8859-9"?><GVPSResponse>` +
			`<Transaction><Response><Message>Approved</Message><ReasonCode>00</ReasonCode></Response>` +
			`<AuthCode>731904</AuthCode><RetrefNum>207308693041</RetrefNum></Transaction></GVPSResponse>`))
	}))
	defer server.Close()
	a.apiURL = server.URL

	tx := testTx()
	if err := a.Direct(context.Background(), tx, testCard()); err != nil {
		t.Fatal(err)
	}
	if tx.Result == nil || !tx.Result.Success || tx.Result.AuthCode != "731904" {
		t.Errorf("result = %+v", tx.Result)
	}

	// The direct request carries the clear card and the MOTO flags; the hash
	// covers the PAN.
	for _, want := range []string{
		"<Number>4282209004348016</Number>",
		"<ExpireDate>0328</ExpireDate>",
		"<CVV2>358</CVV2>",
		"<CardholderPresentCode>0</CardholderPresentCode>",
		"<MotoInd>H</MotoInd>",
	} {
		if !strings.Contains(request, want) {
			t.Errorf("request missing %s", want)
		}
	}
	hp := terminalHash("123qweASD/", "30691298")
	wantHash := provisionHash("ORDER-1", "30691298", "4282209004348016", "15000", "949", hp)
	if !strings.Contains(request, "<HashData>"+wantHash+"</HashData>") {
		t.Error("hash does not cover the PAN")
	}

	// The transaction log keeps only the redacted copy.
	logged, err := json.Marshal(tx.Logs)
	if err != nil {
		t.Fatal(err)
	}
	for _, leak := range []string{"4282209004348016", "<CVV2>358", "<ExpireDate>0328"} {
		if strings.Contains(string(logged), leak) {
			t.Errorf("logs leak %q", leak)
		}
	}
	if !strings.Contains(string(logged), "4282 20** **** 8016") {
		t.Error("logs missing the masked PAN")
	}
}

func TestInitRequiresCredentials(t *testing.T) {
	a := &Adapter{}
	err := a.Init(&store.Terminal{}, store.Credentials{MerchantID: "1"}, "", "https://pay.example.com")
	if payerr.KindOf(err) != payerr.KindValidation {
		t.Errorf("Init with missing creds = %v, want validation", err)
	}
}

func TestTestModeSelectsTestURLs(t *testing.T) {
	term := &store.Terminal{TestMode: true}
	creds := store.Credentials{MerchantID: "7000679", TerminalID: "30691298", Username: "PROVAUT", Password: "x"}
	a := &Adapter{}
	if err := a.Init(term, creds, "key", "https://pay.example.com"); err != nil {
		t.Fatal(err)
	}
	if a.mode != "test" {
		t.Errorf("mode = %q", a.mode)
	}
	if !strings.Contains(a.gateURL, "sanalposprovtest") {
		t.Errorf("gateURL = %q", a.gateURL)
	}
}
