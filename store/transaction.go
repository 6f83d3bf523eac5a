package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/metinweb/ors-payment-service/infra/codec"
	"github.com/metinweb/ors-payment-service/payerr"
)

// TransactionStatus is the state-machine state of a payment attempt.
// Transitions are monotonic: pending → processing → {success, failed};
// success may later become cancelled through an approved cancel.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusSuccess    TransactionStatus = "success"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// IsTerminal reports whether no further state transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// LogType tags an entry in the transaction's append-only log.
type LogType string

const (
	LogInit       LogType = "init"
	Log3DForm     LogType = "3d_form"
	Log3DCallback LogType = "3d_callback"
	LogProvision  LogType = "provision"
	LogRefund     LogType = "refund"
	LogCancel     LogType = "cancel"
	LogStatus     LogType = "status"
	LogPreAuth    LogType = "pre_auth"
	LogPostAuth   LogType = "post_auth"
	LogError      LogType = "error"
)

// LogEntry is one exchange with an acquirer, appended before and after every
// external call. Entries are never modified after insertion.
type LogEntry struct {
	Type     LogType   `json:"type"`
	Request  any       `json:"request,omitempty"`
	Response any       `json:"response,omitempty"`
	At       time.Time `json:"at"`
}

// Card carries the transaction's card. Holder, Number, Expiry and CVV are
// ciphertext at rest; Masked and BIN are the only fields that may leave the
// service.
type Card struct {
	Holder string `json:"holder,omitempty"`
	Number string `json:"number,omitempty"`
	Expiry string `json:"expiry,omitempty"` // MM/YY
	CVV    string `json:"cvv,omitempty"`
	Masked string `json:"masked,omitempty"`
	BIN    string `json:"bin,omitempty"`
}

// ClearCard is the decrypted per-call view of a card. Never persisted.
type ClearCard struct {
	Holder string
	Number string
	Expiry string // MM/YY
	CVV    string
}

// BinInfo is the resolved BIN snapshot taken at creation time.
type BinInfo struct {
	Bank     string `json:"bank,omitempty"`
	BankCode string `json:"bankCode,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Type     string `json:"type,omitempty"` // credit, debit, prepaid
	Family   string `json:"family,omitempty"`
	Country  string `json:"country,omitempty"`
}

// CustomerInfo is the customer snapshot.
type CustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	IP    string `json:"ip,omitempty"`
}

// Result is the terminal outcome persisted on every finalization path.
type Result struct {
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	AuthCode  string `json:"authCode,omitempty"`
	RefNumber string `json:"refNumber,omitempty"`
}

// SecureBundle is the adapter-private 3-D state: a tagged envelope whose
// payload shape varies per provider. It is always re-persisted as a whole
// subtree, never field-diffed.
type SecureBundle struct {
	Provider  string            `json:"provider,omitempty"`
	ECI       string            `json:"eci,omitempty"`
	CAVV      string            `json:"cavv,omitempty"`
	MD        string            `json:"md,omitempty"`
	FormData  map[string]string `json:"formData,omitempty"`
	Callback  map[string]string `json:"callback,omitempty"`
	Decrypted map[string]string `json:"decrypted,omitempty"`
}

// Transaction is one payment attempt.
type Transaction struct {
	ID          string            `json:"id"`
	TerminalID  string            `json:"terminalId"`
	Company     string            `json:"company"`
	Provider    string            `json:"provider"`
	OrderID     string            `json:"orderId"`
	ExternalID  string            `json:"externalId,omitempty"`
	ParentID    string            `json:"parentId,omitempty"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Installment int               `json:"installment"`
	Card        Card              `json:"card"`
	Bin         BinInfo           `json:"bin"`
	Customer    CustomerInfo      `json:"customer"`
	Status      TransactionStatus `json:"status"`
	Secure      SecureBundle      `json:"secure"`
	Result      *Result           `json:"result,omitempty"`
	Logs        []LogEntry        `json:"logs"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	RefundedAt  *time.Time        `json:"refundedAt,omitempty"`
	CancelledAt *time.Time        `json:"cancelledAt,omitempty"`
}

// AppendLog records an exchange on the in-memory transaction; the store
// persists the grown slice. Entries only ever accumulate.
func (t *Transaction) AppendLog(logType LogType, request, response any) {
	t.Logs = append(t.Logs, LogEntry{Type: logType, Request: request, Response: response, At: time.Now().UTC()})
}

// TransactionView is the public projection. Encrypted card fields never pass
// through it: only the masked PAN and the numeric BIN leak.
type TransactionView struct {
	ID          string            `json:"id"`
	Status      TransactionStatus `json:"status"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Installment int               `json:"installment"`
	Card        struct {
		Masked string `json:"masked"`
		BIN    string `json:"bin"`
	} `json:"card"`
	Result      *Result    `json:"result,omitempty"`
	ExternalID  string     `json:"externalId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// View builds the public projection.
func (t *Transaction) View() TransactionView {
	v := TransactionView{
		ID:          t.ID,
		Status:      t.Status,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Installment: t.Installment,
		Result:      t.Result,
		ExternalID:  t.ExternalID,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	v.Card.Masked = t.Card.Masked
	v.Card.BIN = t.Card.BIN
	return v
}

// txRecord is the slow-moving portion persisted in the data column. Mutable
// state (status, secure, result, logs, timestamps) lives in its own columns.
type txRecord struct {
	OrderID     string       `json:"orderId"`
	ExternalID  string       `json:"externalId,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	Installment int          `json:"installment"`
	Card        Card         `json:"card"`
	Bin         BinInfo      `json:"bin"`
	Customer    CustomerInfo `json:"customer"`
}

// TransactionStore persists transactions.
type TransactionStore struct {
	s *Store
}

// Create encrypts the card, derives the masked view and numeric BIN, and
// persists the transaction with status pending.
func (xs *TransactionStore) Create(t *Transaction) error {
	if t.Amount <= 0 {
		return payerr.New(payerr.KindValidation, "amount must be positive")
	}
	if !ValidCurrencies[t.Currency] {
		return payerr.Newf(payerr.KindValidation, "invalid currency %q", t.Currency)
	}
	if t.Installment < 1 {
		t.Installment = 1
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.OrderID == "" {
		t.OrderID = uuid.New().String()
	}
	t.Status = StatusPending
	t.CreatedAt = time.Now().UTC()
	// Cardless children (refund, cancel) keep the masked view they inherit.
	if t.Card.Number != "" {
		t.Card.Masked = codec.MaskPAN(t.Card.Number)
		t.Card.BIN = codec.BINOf(t.Card.Number)
	}

	enc := xs.s.encryptor
	var err error
	if t.Card.Holder, err = enc.Encrypt(t.Card.Holder); err != nil {
		return err
	}
	if t.Card.Number, err = enc.Encrypt(t.Card.Number); err != nil {
		return err
	}
	if t.Card.Expiry, err = enc.Encrypt(t.Card.Expiry); err != nil {
		return err
	}
	if t.Card.CVV, err = enc.Encrypt(t.Card.CVV); err != nil {
		return err
	}

	data, err := json.Marshal(txRecord{
		OrderID: t.OrderID, ExternalID: t.ExternalID, ParentID: t.ParentID,
		Installment: t.Installment, Card: t.Card, Bin: t.Bin, Customer: t.Customer,
	})
	if err != nil {
		return err
	}
	secure, err := json.Marshal(t.Secure)
	if err != nil {
		return err
	}

	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(
			`INSERT INTO transactions (id, terminal_id, company, provider, status, amount, currency, data, secure, logs, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', ?)`,
			t.ID, t.TerminalID, t.Company, t.Provider, string(t.Status), t.Amount, t.Currency,
			string(data), string(secure), t.CreatedAt,
		)
		return err
	}, 3)
}

// FindByID loads one transaction. Card fields come back as stored ciphertext.
func (xs *TransactionStore) FindByID(id string) (*Transaction, error) {
	var (
		t                                  Transaction
		status, data, secure, logs         string
		result                             sql.NullString
		completedAt, refundedAt, cancelled sql.NullTime
	)
	err := xs.s.db.QueryRow(
		`SELECT terminal_id, company, provider, status, amount, currency, data, secure, result, logs, created_at, completed_at, refunded_at, cancelled_at
		 FROM transactions WHERE id = ?`, id,
	).Scan(&t.TerminalID, &t.Company, &t.Provider, &status, &t.Amount, &t.Currency,
		&data, &secure, &result, &logs, &t.CreatedAt, &completedAt, &refundedAt, &cancelled)
	if err == sql.ErrNoRows {
		return nil, payerr.Newf(payerr.KindNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	t.ID = id
	t.Status = TransactionStatus(status)

	var rec txRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	t.OrderID, t.ExternalID, t.ParentID = rec.OrderID, rec.ExternalID, rec.ParentID
	t.Installment, t.Card, t.Bin, t.Customer = rec.Installment, rec.Card, rec.Bin, rec.Customer

	if err := json.Unmarshal([]byte(secure), &t.Secure); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(logs), &t.Logs); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		var r Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, err
		}
		t.Result = &r
	}
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	if refundedAt.Valid {
		rt := refundedAt.Time
		t.RefundedAt = &rt
	}
	if cancelled.Valid {
		ct := cancelled.Time
		t.CancelledAt = &ct
	}
	return &t, nil
}

// ListIDs returns every transaction id in insertion order.
func (xs *TransactionStore) ListIDs() ([]string, error) {
	rows, err := xs.s.db.Query(`SELECT id FROM transactions ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SaveLogs persists the transaction's log array. The slice only ever grows,
// so writing the whole column preserves append-only semantics.
func (xs *TransactionStore) SaveLogs(t *Transaction) error {
	logs, err := json.Marshal(t.Logs)
	if err != nil {
		return err
	}
	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(`UPDATE transactions SET logs = ? WHERE id = ?`, string(logs), t.ID)
		return err
	}, 3)
}

// AppendLog persists a single new log entry onto the stored array.
func (xs *TransactionStore) AppendLog(id string, entry LogEntry) error {
	xs.s.mu.Lock()
	defer xs.s.mu.Unlock()

	var logs string
	err := xs.s.db.QueryRow(`SELECT logs FROM transactions WHERE id = ?`, id).Scan(&logs)
	if err == sql.ErrNoRows {
		return payerr.Newf(payerr.KindNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return err
	}
	var list []LogEntry
	if err := json.Unmarshal([]byte(logs), &list); err != nil {
		return err
	}
	list = append(list, entry)
	out, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(`UPDATE transactions SET logs = ? WHERE id = ?`, string(out), id)
		return err
	}, 3)
}

// UpdateStatusCAS moves the transaction from one status to another with a
// compare-and-swap on the status column. A lost race returns state_error so
// duplicate callbacks cannot double-finalize.
func (xs *TransactionStore) UpdateStatusCAS(id string, from, to TransactionStatus) error {
	return xs.s.retryOperation(func() error {
		var res sql.Result
		var err error
		if to.IsTerminal() {
			res, err = xs.s.db.Exec(
				`UPDATE transactions SET status = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
				string(to), id, string(from),
			)
		} else {
			res, err = xs.s.db.Exec(
				`UPDATE transactions SET status = ? WHERE id = ? AND status = ?`,
				string(to), id, string(from),
			)
		}
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return payerr.Newf(payerr.KindState, "transaction %s is not in status %s", id, from)
		}
		return nil
	}, 3)
}

// SaveSecure re-persists the whole 3-D bundle subtree. Adapters mutate the
// bundle in place; a shallow field diff would silently drop those writes.
func (xs *TransactionStore) SaveSecure(t *Transaction) error {
	secure, err := json.Marshal(t.Secure)
	if err != nil {
		return err
	}
	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(`UPDATE transactions SET secure = ? WHERE id = ?`, string(secure), t.ID)
		return err
	}, 3)
}

// SaveResult persists the terminal outcome.
func (xs *TransactionStore) SaveResult(id string, r *Result) error {
	out, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(`UPDATE transactions SET result = ? WHERE id = ?`, string(out), id)
		return err
	}, 3)
}

// ClearCVV zeroes the stored CVV. Called immediately on success.
func (xs *TransactionStore) ClearCVV(id string) error {
	xs.s.mu.Lock()
	defer xs.s.mu.Unlock()

	var data string
	err := xs.s.db.QueryRow(`SELECT data FROM transactions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return payerr.Newf(payerr.KindNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return err
	}
	var rec txRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return err
	}
	rec.Card.CVV = ""
	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(`UPDATE transactions SET data = ? WHERE id = ?`, string(out), id)
		return err
	}, 3)
}

// MarkRefunded stamps refundedAt on the parent of an approved refund.
func (xs *TransactionStore) MarkRefunded(id string) error {
	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(`UPDATE transactions SET refunded_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
		return err
	}, 3)
}

// MarkCancelled stamps cancelledAt and moves an approved-cancel parent from
// success to cancelled.
func (xs *TransactionStore) MarkCancelled(id string) error {
	return xs.s.retryOperation(func() error {
		_, err := xs.s.db.Exec(
			`UPDATE transactions SET status = ?, cancelled_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
			string(StatusCancelled), id, string(StatusSuccess),
		)
		return err
	}, 3)
}

// DecryptedCard returns the per-call clear card view. Never written back.
func (xs *TransactionStore) DecryptedCard(t *Transaction) (ClearCard, error) {
	enc := xs.s.encryptor
	var (
		out ClearCard
		err error
	)
	if out.Holder, err = enc.Decrypt(t.Card.Holder); err != nil {
		return ClearCard{}, err
	}
	if out.Number, err = enc.Decrypt(t.Card.Number); err != nil {
		return ClearCard{}, err
	}
	if out.Expiry, err = enc.Decrypt(t.Card.Expiry); err != nil {
		return ClearCard{}, err
	}
	if out.CVV, err = enc.Decrypt(t.Card.CVV); err != nil {
		return ClearCard{}, err
	}
	return out, nil
}
