// Package provider defines the acquirer adapter contract and the shared
// machinery adapters build on: the tag registry, the HTTP client, currency
// and amount formatting, and the hosted 3-D form emitter.
//
// Adapters are stateless with respect to persistence: they mutate the
// in-memory transaction (secure bundle, result, logs) and the orchestrator
// decides what to write and when.
package provider

import (
	"context"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/store"
)

// Capabilities reports which optional operations an adapter implements. The
// 3-D flow (Initialize, FormHTML, Callback) is mandatory for every adapter.
type Capabilities struct {
	Direct   bool
	Refund   bool
	Cancel   bool
	Status   bool
	History  bool
	PreAuth  bool
	PostAuth bool
}

// Adapter is one acquirer integration. Init is called once per request with
// the decrypted terminal credentials; the remaining methods implement the
// payment lifecycle.
type Adapter interface {
	// Init binds the adapter to a terminal. creds and storeKey arrive
	// decrypted; callbackBase is the public URL prefix callbacks return to.
	Init(term *store.Terminal, creds store.Credentials, storeKey, callbackBase string) error

	// Initialize starts the payment. For a 3-D flow it fills
	// tx.Secure.FormData with the fields the hosted form will post to the
	// bank; for a non-3-D terminal it may complete the sale directly. The
	// card arrives decrypted and must not be stored on the transaction.
	Initialize(ctx context.Context, tx *store.Transaction, card store.ClearCard) error

	// FormHTML renders the auto-submitting 3-D redirect page from the
	// form data Initialize prepared.
	FormHTML(tx *store.Transaction) (string, error)

	// Callback handles the bank's return post: verifies its authenticity,
	// decides whether 3-D authentication succeeded, and when it did, runs
	// the provision call. On return tx.Result is set and the adapter's
	// verdict is final; the orchestrator owns the status transition.
	Callback(ctx context.Context, tx *store.Transaction, params map[string]string, card store.ClearCard) error

	// Direct posts a single non-3-D authorization. On return tx.Result is
	// set; the card must not be stored on the transaction.
	Direct(ctx context.Context, tx *store.Transaction, card store.ClearCard) error

	// Refund refunds amount against a successful transaction.
	Refund(ctx context.Context, tx *store.Transaction, amount float64) (*store.Result, error)

	// Cancel voids a successful same-day transaction.
	Cancel(ctx context.Context, tx *store.Transaction) (*store.Result, error)

	// Status queries the acquirer-side state of a transaction.
	Status(ctx context.Context, tx *store.Transaction) (map[string]string, error)

	// History lists the acquirer-side operations recorded against the order.
	History(ctx context.Context, tx *store.Transaction) ([]map[string]string, error)

	// PreAuth places a non-3-D authorization hold; PostAuth captures it.
	PreAuth(ctx context.Context, tx *store.Transaction, card store.ClearCard) error
	PostAuth(ctx context.Context, tx *store.Transaction) (*store.Result, error)

	// Capabilities reports which optional operations the adapter supports.
	Capabilities() Capabilities
}

// Factory creates a fresh adapter instance per request.
type Factory func() Adapter

// NotSupported supplies not_implemented defaults for the optional adapter
// operations. Adapters embed it and override what their wire contract
// defines.
type NotSupported struct{}

func (NotSupported) Direct(context.Context, *store.Transaction, store.ClearCard) error {
	return payerr.New(payerr.KindNotImplemented, "direct payment not supported by this acquirer")
}

func (NotSupported) History(context.Context, *store.Transaction) ([]map[string]string, error) {
	return nil, payerr.New(payerr.KindNotImplemented, "order history not supported by this acquirer")
}

func (NotSupported) PreAuth(context.Context, *store.Transaction, store.ClearCard) error {
	return payerr.New(payerr.KindNotImplemented, "pre-authorization not supported by this acquirer")
}

func (NotSupported) PostAuth(context.Context, *store.Transaction) (*store.Result, error) {
	return nil, payerr.New(payerr.KindNotImplemented, "post-authorization not supported by this acquirer")
}
