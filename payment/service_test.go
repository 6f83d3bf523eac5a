package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metinweb/ors-payment-service/binlookup"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

// fakeAdapter scripts the provider side of the flow.
type fakeAdapter struct {
	provider.NotSupported

	failInit        error
	callbackErr     error
	declineCallback bool
	declineDirect   bool
	inverseResult   *store.Result
	inverseErr      error
	statusReply     map[string]string
	historyReply    []map[string]string
	captureResult   *store.Result
	captureErr      error
}

func (f *fakeAdapter) Init(*store.Terminal, store.Credentials, string, string) error { return nil }

func (f *fakeAdapter) Initialize(_ context.Context, tx *store.Transaction, _ store.ClearCard) error {
	if f.failInit != nil {
		return f.failInit
	}
	tx.Secure.Provider = "fake"
	tx.Secure.FormData = map[string]string{"field": "value"}
	tx.AppendLog(store.LogInit, "req", "resp")
	return nil
}

func (f *fakeAdapter) FormHTML(tx *store.Transaction) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", payerr.New(payerr.KindState, "no form data")
	}
	return "<form>" + tx.Secure.FormData["field"] + "</form>", nil
}

func (f *fakeAdapter) Callback(_ context.Context, tx *store.Transaction, params map[string]string, _ store.ClearCard) error {
	if f.callbackErr != nil {
		return f.callbackErr
	}
	tx.AppendLog(store.Log3DCallback, nil, params)
	if f.declineCallback {
		tx.Result = &store.Result{Success: false, Code: "05", Message: "declined"}
		return nil
	}
	tx.Result = &store.Result{Success: true, Code: "00", AuthCode: "846214", RefNumber: "REF-1"}
	return nil
}

func (f *fakeAdapter) Refund(context.Context, *store.Transaction, float64) (*store.Result, error) {
	return f.inverseResult, f.inverseErr
}

func (f *fakeAdapter) Cancel(context.Context, *store.Transaction) (*store.Result, error) {
	return f.inverseResult, f.inverseErr
}

func (f *fakeAdapter) Status(context.Context, *store.Transaction) (map[string]string, error) {
	return f.statusReply, nil
}

func (f *fakeAdapter) Direct(_ context.Context, tx *store.Transaction, _ store.ClearCard) error {
	tx.AppendLog(store.LogInit, "req", "resp")
	if f.declineDirect {
		tx.Result = &store.Result{Success: false, Code: "05", Message: "declined"}
		return nil
	}
	tx.Result = &store.Result{Success: true, Code: "00", AuthCode: "731904", RefNumber: "REF-D1"}
	return nil
}

func (f *fakeAdapter) PreAuth(_ context.Context, tx *store.Transaction, _ store.ClearCard) error {
	tx.AppendLog(store.LogPreAuth, "req", "resp")
	tx.Result = &store.Result{Success: true, Code: "00", AuthCode: "118265", RefNumber: "REF-P1"}
	return nil
}

func (f *fakeAdapter) PostAuth(context.Context, *store.Transaction) (*store.Result, error) {
	return f.captureResult, f.captureErr
}

func (f *fakeAdapter) History(context.Context, *store.Transaction) ([]map[string]string, error) {
	return f.historyReply, nil
}

func (f *fakeAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Direct: true, Refund: true, Cancel: true, Status: true,
		History: true, PreAuth: true, PostAuth: true,
	}
}

type fixture struct {
	svc     *Service
	store   *store.Store
	adapter *fakeAdapter
	term    *store.Terminal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory("test-master-key")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapter := &fakeAdapter{}
	registry := provider.NewRegistry()
	registry.Register("fake", func() provider.Adapter { return adapter })

	term := &store.Terminal{
		Company:    "acme",
		BankCode:   store.BankGaranti,
		Provider:   "fake",
		Currencies: []string{"try", "usd"},
		Status:     true,
		Priority:   10,
		Credentials: store.Credentials{
			MerchantID: "7000679", TerminalID: "30691298", Password: "123qweASD/",
		},
		Installment: store.InstallmentConfig{Enabled: true, MaxCount: 6, MinAmount: 100},
		Secure3D:    store.Secure3D{Enabled: true},
	}
	require.NoError(t, st.Terminals().Create(term))

	resolver := binlookup.NewStaticResolver(map[string]store.BinInfo{
		"42822090": {Bank: "Garanti", BankCode: "garanti", Brand: "visa", Type: "credit", Family: "bonus", Country: "tr"},
	})

	svc := New(Config{
		Store:        st,
		Resolver:     resolver,
		Registry:     registry,
		CallbackBase: "https://pay.example.com",
	})
	return &fixture{svc: svc, store: st, adapter: adapter, term: term}
}

func payRequest() *CreateRequest {
	return &CreateRequest{
		Company:  "acme",
		Amount:   150.00,
		Currency: "try",
		Card: CardInput{
			Holder: "John Doe", Number: "4282209004348016", Expiry: "03/28", CVV: "358",
		},
		Customer: store.CustomerInfo{Name: "John Doe", Email: "john@example.com", IP: "10.0.0.1"},
	}
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, "https://pay.example.com/payment/"+res.TransactionID+"/form", res.FormURL)
	assert.Equal(t, "processing", res.Status)

	tx, err := f.store.Transactions().FindByID(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, tx.Status)
	assert.Equal(t, f.term.ID, tx.TerminalID)
	assert.Equal(t, "garanti", tx.Bin.BankCode)
	assert.Equal(t, "value", tx.Secure.FormData["field"])
	assert.NotEmpty(t, tx.Logs)
	assert.Equal(t, "4282 20** **** 8016", tx.Card.Masked)
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"zero amount", func(r *CreateRequest) { r.Amount = 0 }},
		{"bad currency", func(r *CreateRequest) { r.Currency = "jpy" }},
		{"missing cvv", func(r *CreateRequest) { r.Card.CVV = "" }},
		{"missing holder", func(r *CreateRequest) { r.Card.Holder = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := payRequest()
			tt.mutate(req)
			_, err := f.svc.CreatePayment(context.Background(), req)
			assert.Equal(t, payerr.KindValidation, payerr.KindOf(err))
		})
	}
}

func TestCreatePaymentForeignCurrencyGate(t *testing.T) {
	f := newFixture(t)

	req := payRequest()
	req.Currency = "usd"
	_, err := f.svc.CreatePayment(context.Background(), req)
	require.Equal(t, payerr.KindValidation, payerr.KindOf(err))
	assert.Contains(t, err.Error(), "foreign currency")
}

func TestCreatePaymentInitializeFailure(t *testing.T) {
	f := newFixture(t)
	f.adapter.failInit = payerr.Provider("99", "bank unreachable")

	_, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.Error(t, err)

	// The failed attempt is persisted with an explanatory result.
	txs := findAll(t, f.store)
	require.Len(t, txs, 1)
	assert.Equal(t, store.StatusFailed, txs[0].Status)
	require.NotNil(t, txs[0].Result)
	assert.False(t, txs[0].Result.Success)
	assert.Contains(t, txs[0].Result.Message, "bank unreachable")
}

// findAll is a test helper walking every transaction through the public API.
func findAll(t *testing.T, st *store.Store) []*store.Transaction {
	t.Helper()
	ids, err := st.Transactions().ListIDs()
	require.NoError(t, err)
	out := make([]*store.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := st.Transactions().FindByID(id)
		require.NoError(t, err)
		out = append(out, tx)
	}
	return out
}

func TestGetPaymentForm(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	html, err := f.svc.GetPaymentForm(context.Background(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "<form>value</form>", html)

	// Finalized transactions no longer serve the form.
	_, err = f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "1"})
	require.NoError(t, err)
	_, err = f.svc.GetPaymentForm(context.Background(), res.TransactionID)
	assert.Equal(t, payerr.KindState, payerr.KindOf(err))
}

func TestProcessCallbackApproved(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	view, err := f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "1"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, "846214", view.Result.AuthCode)

	// CVV is wiped the moment the payment succeeds; the PAN stays.
	tx, err := f.store.Transactions().FindByID(res.TransactionID)
	require.NoError(t, err)
	card, err := f.store.Transactions().DecryptedCard(tx)
	require.NoError(t, err)
	assert.Empty(t, card.CVV)
	assert.Equal(t, "4282209004348016", card.Number)
}

func TestProcessCallbackDeclined(t *testing.T) {
	f := newFixture(t)
	f.adapter.declineCallback = true

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	view, err := f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "0"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, "05", view.Result.Code)
}

func TestProcessCallbackIdempotent(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	first, err := f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "1"})
	require.NoError(t, err)

	// A bank retry must not re-run provisioning.
	f.adapter.callbackErr = payerr.New(payerr.KindProvider, "must not be called")
	second, err := f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "1"})
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Result.AuthCode, second.Result.AuthCode)
}

func TestProcessCallbackInfraFailure(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	f.adapter.callbackErr = payerr.New(payerr.KindNetwork, "connection reset")
	_, err = f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "1"})
	require.Error(t, err)

	tx, err := f.store.Transactions().FindByID(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, tx.Status)
	require.NotNil(t, tx.Result)
	assert.Equal(t, string(payerr.KindNetwork), tx.Result.Code)
}

func TestProcessCallbackOnPending(t *testing.T) {
	f := newFixture(t)

	tx := &store.Transaction{
		TerminalID: f.term.ID, Company: "acme", Provider: "fake",
		Amount: 150.00, Currency: "try",
		Card: store.Card{Holder: "J", Number: "4282209004348016", Expiry: "03/28", CVV: "358"},
	}
	require.NoError(t, f.store.Transactions().Create(tx))

	_, err := f.svc.ProcessCallback(context.Background(), tx.ID, map[string]string{})
	assert.Equal(t, payerr.KindState, payerr.KindOf(err))
}

func TestGetTransactionStatusProjection(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	view, err := f.svc.GetTransactionStatus(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "4282 20** **** 8016", view.Card.Masked)
	assert.Equal(t, "42822090", view.Card.BIN)

	_, err = f.svc.GetTransactionStatus("missing")
	assert.Equal(t, payerr.KindNotFound, payerr.KindOf(err))
}

func succeed(t *testing.T, f *fixture) string {
	t.Helper()
	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	_, err = f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "1"})
	require.NoError(t, err)
	return res.TransactionID
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	id := succeed(t, f)
	f.adapter.inverseResult = &store.Result{Success: true, Code: "00", RefNumber: "RFN-1"}

	view, err := f.svc.RefundPayment(context.Background(), id, 50.00)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, view.Status)
	assert.Equal(t, 50.00, view.Amount)

	parent, err := f.store.Transactions().FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, parent.Status)
	assert.NotNil(t, parent.RefundedAt)

	child, err := f.store.Transactions().FindByID(view.ID)
	require.NoError(t, err)
	assert.Equal(t, id, child.ParentID)
	assert.Equal(t, parent.Card.Masked, child.Card.Masked)

	// Second refund is rejected.
	_, err = f.svc.RefundPayment(context.Background(), id, 50.00)
	assert.Equal(t, payerr.KindState, payerr.KindOf(err))
}

func TestRefundValidation(t *testing.T) {
	f := newFixture(t)
	id := succeed(t, f)

	_, err := f.svc.RefundPayment(context.Background(), id, 1000.00)
	assert.Equal(t, payerr.KindValidation, payerr.KindOf(err))
}

func TestRefundRequiresSuccess(t *testing.T) {
	f := newFixture(t)
	f.adapter.declineCallback = true

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	_, err = f.svc.ProcessCallback(context.Background(), res.TransactionID, map[string]string{"mdStatus": "0"})
	require.NoError(t, err)

	_, err = f.svc.RefundPayment(context.Background(), res.TransactionID, 0)
	assert.Equal(t, payerr.KindState, payerr.KindOf(err))
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	id := succeed(t, f)
	f.adapter.inverseResult = &store.Result{Success: true, Code: "00", RefNumber: "VOID-1"}

	view, err := f.svc.CancelPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, view.Status)
	assert.Equal(t, 150.00, view.Amount)

	parent, err := f.store.Transactions().FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, parent.Status)
	assert.NotNil(t, parent.CancelledAt)
}

func TestCancelDeclined(t *testing.T) {
	f := newFixture(t)
	id := succeed(t, f)
	f.adapter.inverseErr = payerr.Provider("99", "cutoff passed")

	_, err := f.svc.CancelPayment(context.Background(), id)
	require.Equal(t, payerr.KindProvider, payerr.KindOf(err))

	// Declined cancel leaves the parent untouched.
	parent, err := f.store.Transactions().FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, parent.Status)
	assert.Nil(t, parent.CancelledAt)
}

func TestInquireStatus(t *testing.T) {
	f := newFixture(t)
	id := succeed(t, f)
	f.adapter.statusReply = map[string]string{"state": "CAPTURED"}

	state, err := f.svc.InquireStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "CAPTURED", state["state"])
}

func TestQueryBin(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.QueryBin(context.Background(), "acme", "4282209004348016", 150.00, "try")
	require.NoError(t, err)
	assert.Equal(t, "Garanti", res.Bank)
	assert.Equal(t, "credit", res.CardType)
	assert.Equal(t, "bonus", res.CardFamily)
	assert.Equal(t, f.term.ID, res.POS.ID)
	assert.Equal(t, "fake", res.POS.Provider)
	// 1 plus 2..6 on an enabled TRY credit card above the floor.
	assert.Len(t, res.Installments, 6)

	_, err = f.svc.QueryBin(context.Background(), "acme", "42", 150.00, "try")
	assert.Equal(t, payerr.KindValidation, payerr.KindOf(err))
}

func TestCreatePaymentDirectWithout3D(t *testing.T) {
	f := newFixture(t)
	f.term.Secure3D.Enabled = false
	require.NoError(t, f.store.Terminals().Update(f.term))

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Empty(t, res.FormURL)

	tx, err := f.store.Transactions().FindByID(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, tx.Status)
	require.NotNil(t, tx.Result)
	assert.Equal(t, "731904", tx.Result.AuthCode)

	// CVV is wiped on success, same as the 3-D path.
	card, err := f.store.Transactions().DecryptedCard(tx)
	require.NoError(t, err)
	assert.Empty(t, card.CVV)
}

func TestCreatePaymentDirectDeclined(t *testing.T) {
	f := newFixture(t)
	f.term.Secure3D.Enabled = false
	require.NoError(t, f.store.Terminals().Update(f.term))
	f.adapter.declineDirect = true

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)

	tx, err := f.store.Transactions().FindByID(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, tx.Status)
	assert.Equal(t, "05", tx.Result.Code)
}

func TestPreAuthorizeAndCapture(t *testing.T) {
	f := newFixture(t)
	f.adapter.captureResult = &store.Result{Success: true, Code: "00", AuthCode: "552871", RefNumber: "REF-C1"}

	res, err := f.svc.PreAuthorize(context.Background(), payRequest())
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	view, err := f.svc.Capture(context.Background(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, "552871", view.Result.AuthCode)

	// The capture is a child transaction; the hold keeps its own record.
	child, err := f.store.Transactions().FindByID(view.ID)
	require.NoError(t, err)
	assert.Equal(t, res.TransactionID, child.ParentID)
}

func TestCaptureRequiresSuccessfulHold(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	// Still processing, nothing to capture.
	_, err = f.svc.Capture(context.Background(), res.TransactionID)
	assert.Equal(t, payerr.KindState, payerr.KindOf(err))
}

func TestInquireHistory(t *testing.T) {
	f := newFixture(t)
	id := succeed(t, f)
	f.adapter.historyReply = []map[string]string{
		{"TRXDATE": "2026-08-24", "TRX": "S", "AMOUNT": "150.00"},
	}

	rows, err := f.svc.InquireHistory(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "S", rows[0]["TRX"])
}

func TestExplicitTerminalOtherCompany(t *testing.T) {
	f := newFixture(t)

	other := &store.Terminal{
		Company:    "globex",
		BankCode:   store.BankGaranti,
		Provider:   "fake",
		Currencies: []string{"try"},
		Status:     true,
		Credentials: store.Credentials{
			MerchantID: "111", TerminalID: "222", Password: "333",
		},
		Secure3D: store.Secure3D{Enabled: true},
	}
	require.NoError(t, f.store.Terminals().Create(other))

	// Another tenant's terminal must look like it does not exist.
	req := payRequest()
	req.TerminalID = other.ID
	_, err := f.svc.CreatePayment(context.Background(), req)
	assert.Equal(t, payerr.KindNotFound, payerr.KindOf(err))

	_, err = f.svc.PreAuthorize(context.Background(), req)
	assert.Equal(t, payerr.KindNotFound, payerr.KindOf(err))
}

func TestExplicitTerminalInactive(t *testing.T) {
	f := newFixture(t)
	f.term.Status = false
	require.NoError(t, f.store.Terminals().Update(f.term))

	req := payRequest()
	req.TerminalID = f.term.ID
	_, err := f.svc.CreatePayment(context.Background(), req)
	assert.Equal(t, payerr.KindValidation, payerr.KindOf(err))

	_, err = f.svc.PreAuthorize(context.Background(), req)
	assert.Equal(t, payerr.KindValidation, payerr.KindOf(err))
}

func TestTerminalAmountLimits(t *testing.T) {
	f := newFixture(t)
	f.term.Limits = store.Limits{MinAmount: 10, MaxAmount: 500}
	require.NoError(t, f.store.Terminals().Update(f.term))

	for _, amount := range []float64{5.00, 1000.00} {
		req := payRequest()
		req.Amount = amount
		_, err := f.svc.CreatePayment(context.Background(), req)
		assert.Equal(t, payerr.KindValidation, payerr.KindOf(err))

		_, err = f.svc.PreAuthorize(context.Background(), req)
		assert.Equal(t, payerr.KindValidation, payerr.KindOf(err))
	}

	// Inside the bounds the payment proceeds.
	res, err := f.svc.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	assert.Equal(t, "processing", res.Status)
}

func TestUnknownProviderTag(t *testing.T) {
	f := newFixture(t)

	req := payRequest()
	f.term.Provider = "nosuch"
	require.NoError(t, f.store.Terminals().Update(f.term))

	_, err := f.svc.CreatePayment(context.Background(), req)
	assert.Equal(t, payerr.KindNotImplemented, payerr.KindOf(err))
}
