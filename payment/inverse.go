package payment

import (
	"context"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/store"
)

// RefundPayment refunds amount (or the whole amount when zero) against a
// successful transaction. An approved refund is recorded as a child
// transaction and the parent gains refundedAt.
func (s *Service) RefundPayment(ctx context.Context, id string, amount float64) (*store.TransactionView, error) {
	return s.inverse(ctx, id, amount, false)
}

// CancelPayment voids a successful same-day transaction. The approved cancel
// is recorded as a child transaction; the parent moves to cancelled.
func (s *Service) CancelPayment(ctx context.Context, id string) (*store.TransactionView, error) {
	return s.inverse(ctx, id, 0, true)
}

func (s *Service) inverse(ctx context.Context, id string, amount float64, cancel bool) (*store.TransactionView, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	parent, err := s.transactions.FindByID(id)
	if err != nil {
		return nil, err
	}
	if parent.Status != store.StatusSuccess {
		return nil, payerr.Newf(payerr.KindState, "transaction %s is %s, only successful payments can be reversed", id, parent.Status)
	}
	if !cancel && parent.RefundedAt != nil {
		return nil, payerr.Newf(payerr.KindState, "transaction %s is already refunded", id)
	}
	if amount <= 0 {
		amount = parent.Amount
	}
	if amount > parent.Amount {
		return nil, payerr.New(payerr.KindValidation, "refund amount exceeds the original amount")
	}

	term, err := s.terminals.FindByID(parent.TerminalID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapterFor(term)
	if err != nil {
		return nil, err
	}
	caps := adapter.Capabilities()
	if cancel && !caps.Cancel {
		return nil, payerr.Newf(payerr.KindNotImplemented, "provider %s does not support cancel", parent.Provider)
	}
	if !cancel && !caps.Refund {
		return nil, payerr.Newf(payerr.KindNotImplemented, "provider %s does not support refund", parent.Provider)
	}

	var result *store.Result
	if cancel {
		result, err = adapter.Cancel(ctx, parent)
	} else {
		result, err = adapter.Refund(ctx, parent, amount)
	}
	_ = s.transactions.SaveLogs(parent)
	if err != nil {
		return nil, err
	}

	child := &store.Transaction{
		TerminalID: parent.TerminalID,
		Company:    parent.Company,
		Provider:   parent.Provider,
		ParentID:   parent.ID,
		Amount:     amount,
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

	if cancel {
		err = s.transactions.MarkCancelled(parent.ID)
	} else {
		err = s.transactions.MarkRefunded(parent.ID)
	}
	if err != nil {
		return nil, err
	}
	s.audit(parent.ID)

	child.Status = store.StatusSuccess
	child.Result = result
	view := child.View()
	return &view, nil
}

// InquireStatus queries the acquirer-side state of a transaction.
func (s *Service) InquireStatus(ctx context.Context, id string) (map[string]string, error) {
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
	if !adapter.Capabilities().Status {
		return nil, payerr.Newf(payerr.KindNotImplemented, "provider %s does not support status inquiry", tx.Provider)
	}
	state, err := adapter.Status(ctx, tx)
	_ = s.transactions.SaveLogs(tx)
	if err != nil {
		return nil, err
	}
	return state, nil
}
