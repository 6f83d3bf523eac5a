package payment

import (
	"context"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/provider"
	"github.com/metinweb/ors-payment-service/store"
)

// completeSingle finalizes a non-3-D authorization (direct sale or pre-auth
// hold): the adapter's verdict arrives synchronously, so the transaction
// moves straight from pending to its terminal state.
func (s *Service) completeSingle(ctx context.Context, tx *store.Transaction, adapter provider.Adapter, card store.ClearCard, preAuth bool) (*CreateResult, error) {
	var err error
	if preAuth {
		err = adapter.PreAuth(ctx, tx, card)
	} else {
		err = adapter.Direct(ctx, tx, card)
	}
	if err != nil {
		return nil, s.failPending(tx, err)
	}
	if tx.Result == nil {
		return nil, s.failPending(tx, payerr.New(payerr.KindProvider, "adapter returned no result"))
	}

	if err := s.transactions.SaveSecure(tx); err != nil {
		return nil, err
	}
	if err := s.transactions.SaveLogs(tx); err != nil {
		return nil, err
	}
	if err := s.transactions.SaveResult(tx.ID, tx.Result); err != nil {
		return nil, err
	}

	to := store.StatusFailed
	if tx.Result.Success {
		to = store.StatusSuccess
	}
	if err := s.transactions.UpdateStatusCAS(tx.ID, store.StatusPending, to); err != nil {
		return nil, err
	}
	if to == store.StatusSuccess {
		if err := s.transactions.ClearCVV(tx.ID); err != nil {
			return nil, err
		}
	}
	s.audit(tx.ID)

	return &CreateResult{TransactionID: tx.ID, Status: string(to)}, nil
}

// PreAuthorize places a non-3-D authorization hold. The transaction finalizes
// immediately; Capture later moves the money.
func (s *Service) PreAuthorize(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}
	if req.Installment < 1 {
		req.Installment = 1
	}

	binInfo := s.resolveBin(ctx, req.Card.Number)
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
	if !adapter.Capabilities().PreAuth {
		return nil, s.failPending(tx, payerr.Newf(payerr.KindNotImplemented, "provider %s does not support pre-authorization", term.Provider))
	}
	card := store.ClearCard{
		Holder: req.Card.Holder, Number: req.Card.Number,
		Expiry: req.Card.Expiry, CVV: req.Card.CVV,
	}
	return s.completeSingle(ctx, tx, adapter, card, true)
}

// Capture completes a pre-authorized hold. The approved capture is recorded
// as a child transaction, like the other post-success operations.
func (s *Service) Capture(ctx context.Context, id string) (*store.TransactionView, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	parent, err := s.transactions.FindByID(id)
	if err != nil {
		return nil, err
	}
	if parent.Status != store.StatusSuccess {
		return nil, payerr.Newf(payerr.KindState, "transaction %s is %s, only a successful hold can be captured", id, parent.Status)
	}

	term, err := s.terminals.FindByID(parent.TerminalID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapterFor(term)
	if err != nil {
		return nil, err
	}

	if !adapter.Capabilities().PostAuth {
		return nil, payerr.Newf(payerr.KindNotImplemented, "provider %s does not support post-authorization", parent.Provider)
	}

	result, err := adapter.PostAuth(ctx, parent)
	_ = s.transactions.SaveLogs(parent)
	if err != nil {
		return nil, err
	}

	child := &store.Transaction{
		TerminalID: parent.TerminalID,
		Company:    parent.Company,
		Provider:   parent.Provider,
		ParentID:   parent.ID,
		Amount:     parent.Amount,
		Currency:   parent.Currency,
		Card:       store.Card{Masked: parent.Card.Masked, BIN: parent.Card.BIN},
		Bin:        parent.Bin,
		Customer:   parent.Customer,
	}
	if err := s.transactions.Create(child); err != nil {
		return nil, err
	}
	if err := s.transactions.SaveResult(child.ID, result); err != nil {
		return nil, err
	}
	if err := s.transactions.UpdateStatusCAS(child.ID, store.StatusPending, store.StatusSuccess); err != nil {
		return nil, err
	}
	s.audit(child.ID)

	child.Status = store.StatusSuccess
	child.Result = result
	view := child.View()
	return &view, nil
}

// InquireHistory lists the acquirer-side operation history of a transaction.
func (s *Service) InquireHistory(ctx context.Context, id string) ([]map[string]string, error) {
	tx, err := s.transactions.FindByID(id)
	if err != nil {
		return nil, err
	}
	term, err := s.terminals.FindByID(tx.TerminalID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapterFor(term)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().History {
		return nil, payerr.Newf(payerr.KindNotImplemented, "provider %s does not support order history", tx.Provider)
	}
	rows, err := adapter.History(ctx, tx)
	_ = s.transactions.SaveLogs(tx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
