package vakifbank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/store"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	term := &store.Terminal{Company: "acme", BankCode: store.BankVakifbank, Provider: "vakifbank"}
	creds := store.Credentials{MerchantID: "000000000111111", TerminalID: "VP000123", Password: "secret123"}
	a := &Adapter{}
	if err := a.Init(term, creds, "", "https://pay.example.com"); err != nil {
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
		Bin:         store.BinInfo{Brand: "visa"},
		Customer:    store.CustomerInfo{IP: "10.0.0.1"},
	}
}

func testCard() store.ClearCard {
	return store.ClearCard{Holder: "John Doe", Number: "4282209004348016", Expiry: "03/28", CVV: "358"}
}

const enrolledResponse = `<?xml version="1.0" encoding="UTF-8"?><IPaySecure>` +
	`<Message><VERes><Status>Y</Status><PaReq>cGFSZXE=</PaReq>` +
	`<TermUrl>https://3dsecure.vakifbank.com.tr/MPIAPI/MPI_Term.aspx</TermUrl>` +
	`<MD>md-token</MD><ACSUrl>https://acs.issuer.example.com/pareq</ACSUrl></VERes></Message>` +
	`</IPaySecure>`

const notEnrolledResponse = `<?xml version="1.0" encoding="UTF-8"?><IPaySecure>` +
	`<Message><VERes><Status>N</Status></VERes></Message>` +
	`<MessageErrorCode>2005</MessageErrorCode>` +
	`<ErrorMessage>Kart 3D programina dahil degil</ErrorMessage></IPaySecure>`

func enrollmentServer(t *testing.T, response string, capture *url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		if capture != nil {
			*capture = r.PostForm
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(response))
	}))
}

func TestInitializeEnrolled(t *testing.T) {
	var posted url.Values
	srv := enrollmentServer(t, enrolledResponse, &posted)
	defer srv.Close()

	a := testAdapter(t)
	a.enrollmentURL = srv.URL
	tx := testTx()

	if err := a.Initialize(context.Background(), tx, testCard()); err != nil {
		t.Fatal(err)
	}

	if posted.Get("Pan") != "4282209004348016" {
		t.Errorf("Pan = %q", posted.Get("Pan"))
	}
	if posted.Get("ExpiryDate") != "2803" {
		t.Errorf("ExpiryDate = %q, want YYMM", posted.Get("ExpiryDate"))
	}
	if posted.Get("PurchaseAmount") != "150.00" {
		t.Errorf("PurchaseAmount = %q", posted.Get("PurchaseAmount"))
	}
	if posted.Get("BrandName") != "100" {
		t.Errorf("BrandName = %q", posted.Get("BrandName"))
	}
	if posted.Get("SuccessUrl") != "https://pay.example.com/payment/tx-1/callback" {
		t.Errorf("SuccessUrl = %q", posted.Get("SuccessUrl"))
	}

	form := tx.Secure.FormData
	if form["acsUrl"] != "https://acs.issuer.example.com/pareq" {
		t.Errorf("acsUrl = %q", form["acsUrl"])
	}
	if form["PaReq"] != "cGFSZXE=" || form["MD"] != "md-token" {
		t.Errorf("formData = %v", form)
	}
}

func TestInitializeNotEnrolled(t *testing.T) {
	srv := enrollmentServer(t, notEnrolledResponse, nil)
	defer srv.Close()

	a := testAdapter(t)
	a.enrollmentURL = srv.URL
	tx := testTx()

	err := a.Initialize(context.Background(), tx, testCard())
	if payerr.KindOf(err) != payerr.KindProvider {
		t.Fatalf("err = %v, want provider error", err)
	}
	if payerr.CodeOf(err) != "2005" {
		t.Errorf("code = %q", payerr.CodeOf(err))
	}
	if len(tx.Secure.FormData) != 0 {
		t.Error("rejected enrollment must not leave form data")
	}
}

func TestFormHTML(t *testing.T) {
	a := testAdapter(t)
	tx := testTx()
	tx.Secure.FormData = map[string]string{
		"acsUrl":  "https://acs.issuer.example.com/pareq",
		"PaReq":   "cGFSZXE=",
		"TermUrl": "https://term.example.com",
		"MD":      "md-token",
	}

	html, err := a.FormHTML(tx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, `action="https://acs.issuer.example.com/pareq"`) {
		t.Error("form does not target the ACS")
	}
	if !strings.Contains(html, `name="PaReq" value="cGFSZXE="`) {
		t.Error("PaReq missing")
	}

	empty := testTx()
	if _, err := a.FormHTML(empty); payerr.KindOf(err) != payerr.KindState {
		t.Errorf("FormHTML without form data = %v, want state error", err)
	}
}

func TestCallbackRejectedStatus(t *testing.T) {
	a := testAdapter(t)
	tx := testTx()

	params := map[string]string{"Status": "N", "ErrorMessage": "Dogrulama basarisiz"}
	if err := a.Callback(context.Background(), tx, params, testCard()); err != nil {
		t.Fatal(err)
	}
	if tx.Result == nil || tx.Result.Success {
		t.Fatal("rejected status accepted")
	}
	if tx.Result.Message != "Dogrulama basarisiz" {
		t.Errorf("message = %q", tx.Result.Message)
	}
}

func TestCallbackProvisionApproved(t *testing.T) {
	var posted url.Values
	srv := enrollmentServer(t, `<?xml version="1.0" encoding="UTF-8"?><VposResponse>`+
		`<ResultCode>0000</ResultCode><ResultDetail>Islem basarili</ResultDetail>`+
		`<AuthCode>123456</AuthCode><TransactionId>20240314-0001</TransactionId></VposResponse>`, &posted)
	defer srv.Close()

	a := testAdapter(t)
	a.apiURL = srv.URL
	tx := testTx()

	params := map[string]string{
		"Status": "Y", "Eci": "05", "Cavv": "jCm0m+u/0hUfAREHK+LEMpdWFPY=",
		"VerifyEnrollmentRequestId": "ORDER-1",
	}
	if err := a.Callback(context.Background(), tx, params, testCard()); err != nil {
		t.Fatal(err)
	}
	if tx.Result == nil || !tx.Result.Success {
		t.Fatalf("result = %+v", tx.Result)
	}
	if tx.Result.AuthCode != "123456" || tx.Result.RefNumber != "20240314-0001" {
		t.Errorf("result = %+v", tx.Result)
	}

	// The provision request rides in the prmstr form field.
	prmstr := posted.Get("prmstr")
	if !strings.Contains(prmstr, "<TransactionType>Sale</TransactionType>") {
		t.Errorf("prmstr = %q", prmstr)
	}
	if !strings.Contains(prmstr, "<Expiry>202803</Expiry>") {
		t.Errorf("expiry must be YYYYMM: %q", prmstr)
	}
	if !strings.Contains(prmstr, "<ECI>05</ECI>") {
		t.Errorf("eci missing: %q", prmstr)
	}
	if !strings.Contains(prmstr, "<Pan>4282209004348016</Pan>") {
		t.Error("wire request must carry the clear PAN")
	}

	// The transaction log keeps only the redacted copy.
	logged, err := json.Marshal(tx.Logs)
	if err != nil {
		t.Fatal(err)
	}
	for _, leak := range []string{"4282209004348016", "<Expiry>202803"} {
		if strings.Contains(string(logged), leak) {
			t.Errorf("logs leak %q", leak)
		}
	}
	if !strings.Contains(string(logged), "4282 20** **** 8016") {
		t.Error("logs missing the masked PAN")
	}
}

func TestParseVposResponseDeclined(t *testing.T) {
	declined := `<?xml version="1.0" encoding="UTF-8"?><VposResponse>` +
		`<ResultCode>0051</ResultCode><ResultDetail>Yetersiz bakiye</ResultDetail></VposResponse>`
	result, err := parseVposResponse([]byte(declined))
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("declined response treated as success")
	}
	if result.Code != "0051" || result.Message != "Yetersiz bakiye" {
		t.Errorf("result = %+v", result)
	}
}

func TestStatusNotImplemented(t *testing.T) {
	a := testAdapter(t)
	if _, err := a.Status(context.Background(), testTx()); payerr.KindOf(err) != payerr.KindNotImplemented {
		t.Errorf("Status = %v, want not_implemented", err)
	}
}
