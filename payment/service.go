// Package payment orchestrates the payment lifecycle: BIN-driven terminal
// selection, the four-phase 3-D flow through the provider adapters, and the
// transaction state machine. Adapters mutate the in-memory transaction; this
// package owns every database write and every status transition.
package payment

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/metinweb/ors-payment-service/binlookup"
	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

// Auditor receives finalized transactions for out-of-band indexing. Calls
// must not block the payment path.
type Auditor interface {
	Index(tx *store.Transaction)
}

// Config wires a Service.
type Config struct {
	Store        *store.Store
	Resolver     binlookup.Resolver
	Registry     *provider.Registry
	CallbackBase string
	Auditor      Auditor // optional
}

const lockStripes = 64

// Service is the payment orchestrator.
type Service struct {
	store        *store.Store
	terminals    *store.TerminalStore
	transactions *store.TransactionStore
	resolver     binlookup.Resolver
	registry     *provider.Registry
	callbackBase string
	auditor      Auditor

	// locks serialize initialize/callback per transaction id.
	locks [lockStripes]sync.Mutex
}

// New creates a Service.
func New(cfg Config) *Service {
	registry := cfg.Registry
	if registry == nil {
		registry = provider.DefaultRegistry
	}
	return &Service{
		store:        cfg.Store,
		terminals:    cfg.Store.Terminals(),
		transactions: cfg.Store.Transactions(),
		resolver:     cfg.Resolver,
		registry:     registry,
		callbackBase: cfg.CallbackBase,
		auditor:      cfg.Auditor,
	}
}

func (s *Service) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// adapterFor builds a bound adapter for the terminal: decrypts credentials,
// instantiates by provider tag and runs Init.
func (s *Service) adapterFor(t *store.Terminal) (provider.Adapter, error) {
	creds, storeKey, err := s.terminals.DecryptedCredentials(t)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Create(t.Provider)
	if err != nil {
		return nil, err
	}
	if err := adapter.Init(t, creds, storeKey, s.callbackBase); err != nil {
		return nil, err
	}
	return adapter, nil
}

// CardInput is the cardholder data of a pay request.
type CardInput struct {
	Holder string `json:"holder" validate:"required"`
	Number string `json:"number" validate:"required,min=12,max=19"`
	Expiry string `json:"expiry" validate:"required"` // MM/YY
	CVV    string `json:"cvv" validate:"required,min=3,max=4"`
}

// CreateRequest is a pay intent.
type CreateRequest struct {
	Company     string             `json:"-"`
	Amount      float64            `json:"amount" validate:"required,gt=0"`
	Currency    string             `json:"currency" validate:"required,oneof=try eur usd gbp"`
	Installment int                `json:"installment"`
	Card        CardInput          `json:"card" validate:"required"`
	Customer    store.CustomerInfo `json:"customer"`
	TerminalID  string             `json:"terminalId,omitempty"`
	ExternalID  string             `json:"externalId,omitempty"`
}

// CreateResult points the client at the hosted 3-D form.
type CreateResult struct {
	TransactionID string `json:"transactionId"`
	FormURL       string `json:"formUrl"`
	Status        string `json:"status"`
}

func (s *Service) validateCreate(req *CreateRequest) error {
	if req.Amount <= 0 {
		return payerr.New(payerr.KindValidation, "amount must be positive")
	}
	if !store.ValidCurrencies[req.Currency] {
		return payerr.Newf(payerr.KindValidation, "invalid currency %q", req.Currency)
	}
	if req.Card.Holder == "" || req.Card.Number == "" || req.Card.Expiry == "" || req.Card.CVV == "" {
		return payerr.New(payerr.KindValidation, "card holder, number, expiry and cvv are required")
	}
	return nil
}

// resolveBin looks up the BIN snapshot. Resolver failures degrade to an
// empty snapshot: selection falls through to the default rules.
func (s *Service) resolveBin(ctx context.Context, pan string) store.BinInfo {
	if s.resolver == nil {
		return store.BinInfo{}
	}
	bin, err := binlookup.NormalizeBIN(pan)
	if err != nil {
		return store.BinInfo{}
	}
	info, err := s.resolver.Resolve(ctx, bin)
	if err != nil {
		return store.BinInfo{}
	}
	return info
}

// CreatePayment validates the request, routes it to a terminal, persists the
// transaction and starts the 3-D flow. On success the transaction is in
// processing and the client is sent to the form URL.
func (s *Service) CreatePayment(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}
	if req.Installment < 1 {
		req.Installment = 1
	}

	binInfo := s.resolveBin(ctx, req.Card.Number)

	// Turkish-issued cards only pay in lira.
	if req.Currency != "try" && binInfo.Country == "tr" {
		return nil, payerr.New(payerr.KindValidation, "domestic cards cannot pay in foreign currency")
	}

	var term *store.Terminal
	var err error
	if req.TerminalID != "" {
		term, err = s.terminalForRequest(req.TerminalID, req.Company, req.Currency)
	} else {
		term, err = s.SelectTerminal(req.Company, req.Currency, &binInfo)
	}
	if err != nil {
		return nil, err
	}
	if err := checkLimits(term, req.Amount); err != nil {
		return nil, err
	}

	tx := &store.Transaction{
		TerminalID:  term.ID,
		Company:     req.Company,
		Provider:    term.Provider,
		ExternalID:  req.ExternalID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Installment: req.Installment,
		Card: store.Card{
			Holder: req.Card.Holder,
			Number: req.Card.Number,
			Expiry: req.Card.Expiry,
			CVV:    req.Card.CVV,
		},
		Bin:      binInfo,
		Customer: req.Customer,
	}
	if err := s.transactions.Create(tx); err != nil {
		return nil, err
	}

	lock := s.lockFor(tx.ID)
	lock.Lock()
	defer lock.Unlock()

	adapter, err := s.adapterFor(term)
	if err != nil {
		return nil, s.failPending(tx, err)
	}
	card := store.ClearCard{
		Holder: req.Card.Holder, Number: req.Card.Number,
		Expiry: req.Card.Expiry, CVV: req.Card.CVV,
	}

	// Terminals without 3-D run a single authorization and finalize here.
	if !term.Secure3D.Enabled {
		if !adapter.Capabilities().Direct {
			return nil, s.failPending(tx, payerr.Newf(payerr.KindNotImplemented, "provider %s does not support direct payment", term.Provider))
		}
		return s.completeSingle(ctx, tx, adapter, card, false)
	}

	if err := adapter.Initialize(ctx, tx, card); err != nil {
		return nil, s.failPending(tx, err)
	}

	if err := s.transactions.SaveSecure(tx); err != nil {
		return nil, err
	}
	if err := s.transactions.SaveLogs(tx); err != nil {
		return nil, err
	}
	if err := s.transactions.UpdateStatusCAS(tx.ID, store.StatusPending, store.StatusProcessing); err != nil {
		return nil, err
	}

	return &CreateResult{
		TransactionID: tx.ID,
		FormURL:       s.callbackBase + "/payment/" + tx.ID + "/form",
		Status:        string(store.StatusProcessing),
	}, nil
}

// terminalForRequest resolves an explicitly requested terminal. Terminals of
// another company are reported as not found so the id space leaks nothing
// across tenants; inactive terminals and currency mismatches are rejected.
func (s *Service) terminalForRequest(id, company, currency string) (*store.Terminal, error) {
	term, err := s.terminals.FindByID(id)
	if err != nil {
		return nil, err
	}
	if term.Company != company {
		return nil, payerr.Newf(payerr.KindNotFound, "terminal %s not found", id)
	}
	if !term.Status {
		return nil, payerr.Newf(payerr.KindValidation, "terminal %s is not active", id)
	}
	if !term.SupportsCurrency(currency) {
		return nil, payerr.Newf(payerr.KindValidation, "terminal does not support currency %q", currency)
	}
	return term, nil
}

// checkLimits enforces the terminal's per-transaction amount bounds. A zero
// bound is unset.
func checkLimits(term *store.Terminal, amount float64) error {
	if term.Limits.MinAmount > 0 && amount < term.Limits.MinAmount {
		return payerr.Newf(payerr.KindValidation, "amount is below the terminal minimum of %.2f", term.Limits.MinAmount)
	}
	if term.Limits.MaxAmount > 0 && amount > term.Limits.MaxAmount {
		return payerr.Newf(payerr.KindValidation, "amount exceeds the terminal maximum of %.2f", term.Limits.MaxAmount)
	}
	return nil
}

// failPending finalizes a transaction whose initialize never succeeded and
// returns the original error.
func (s *Service) failPending(tx *store.Transaction, cause error) error {
	tx.AppendLog(store.LogError, nil, cause.Error())
	_ = s.transactions.SaveLogs(tx)
	_ = s.transactions.SaveResult(tx.ID, &store.Result{
		Success: false,
		Code:    string(payerr.KindOf(cause)),
		Message: cause.Error(),
	})
	_ = s.transactions.UpdateStatusCAS(tx.ID, store.StatusPending, store.StatusFailed)
	s.audit(tx.ID)
	return cause
}

// GetPaymentForm renders the hosted 3-D page for a processing transaction.
func (s *Service) GetPaymentForm(ctx context.Context, id string) (string, error) {
	tx, err := s.transactions.FindByID(id)
	if err != nil {
		return "", err
	}
	if tx.Status != store.StatusProcessing {
		return "", payerr.Newf(payerr.KindState, "transaction %s is %s, not awaiting 3D form", id, tx.Status)
	}

	term, err := s.terminals.FindByID(tx.TerminalID)
	if err != nil {
		return "", err
	}
	adapter, err := s.adapterFor(term)
	if err != nil {
		return "", err
	}
	html, err := adapter.FormHTML(tx)
	if err != nil {
		return "", err
	}
	_ = s.transactions.SaveLogs(tx)
	return html, nil
}

// ProcessCallback handles the bank's return post. Idempotent under retries:
// an already-finalized transaction short-circuits to its persisted view.
func (s *Service) ProcessCallback(ctx context.Context, id string, params map[string]string) (*store.TransactionView, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.transactions.FindByID(id)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		view := tx.View()
		return &view, nil
	}
	if tx.Status != store.StatusProcessing {
		return nil, payerr.Newf(payerr.KindState, "transaction %s is %s, not awaiting callback", id, tx.Status)
	}

	term, err := s.terminals.FindByID(tx.TerminalID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapterFor(term)
	if err != nil {
		return nil, s.finalizeFailed(tx, err)
	}
	card, err := s.transactions.DecryptedCard(tx)
	if err != nil {
		return nil, s.finalizeFailed(tx, err)
	}

	if err := adapter.Callback(ctx, tx, params, card); err != nil {
		return nil, s.finalizeFailed(tx, err)
	}
	if tx.Result == nil {
		return nil, s.finalizeFailed(tx, payerr.New(payerr.KindProvider, "adapter returned no result"))
	}

	to := store.StatusFailed
	if tx.Result.Success {
		to = store.StatusSuccess
	}

	_ = s.transactions.SaveSecure(tx)
	_ = s.transactions.SaveLogs(tx)
	if err := s.transactions.SaveResult(tx.ID, tx.Result); err != nil {
		return nil, err
	}
	if err := s.transactions.UpdateStatusCAS(tx.ID, store.StatusProcessing, to); err != nil {
		return nil, err
	}
	if to == store.StatusSuccess {
		if err := s.transactions.ClearCVV(tx.ID); err != nil {
			return nil, err
		}
	}
	tx.Status = to
	s.audit(tx.ID)

	view := tx.View()
	return &view, nil
}

// finalizeFailed moves a processing transaction to failed with an
// explanatory result, then returns the original error.
func (s *Service) finalizeFailed(tx *store.Transaction, cause error) error {
	tx.AppendLog(store.LogError, nil, cause.Error())
	_ = s.transactions.SaveSecure(tx)
	_ = s.transactions.SaveLogs(tx)
	result := tx.Result
	if result == nil {
		result = &store.Result{
			Success: false,
			Code:    string(payerr.KindOf(cause)),
			Message: cause.Error(),
		}
	}
	_ = s.transactions.SaveResult(tx.ID, result)
	_ = s.transactions.UpdateStatusCAS(tx.ID, store.StatusProcessing, store.StatusFailed)
	s.audit(tx.ID)
	return cause
}

// GetTransactionStatus projects the public view of a transaction.
func (s *Service) GetTransactionStatus(id string) (*store.TransactionView, error) {
	tx, err := s.transactions.FindByID(id)
	if err != nil {
		return nil, err
	}
	view := tx.View()
	return &view, nil
}

func (s *Service) audit(id string) {
	if s.auditor == nil {
		return
	}
	tx, err := s.transactions.FindByID(id)
	if err != nil {
		return
	}
	s.auditor.Index(tx)
}
