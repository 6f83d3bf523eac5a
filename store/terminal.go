package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/metinweb/ors-payment-service/payerr"
)

// BankCode identifies the acquiring bank behind a terminal.
type BankCode string

const (
	BankGaranti    BankCode = "garanti"
	BankAkbank     BankCode = "akbank"
	BankIsbank     BankCode = "isbank"
	BankZiraat     BankCode = "ziraat"
	BankHalkbank   BankCode = "halkbank"
	BankVakifbank  BankCode = "vakifbank"
	BankYapiKredi  BankCode = "ykb"
	BankQNB        BankCode = "qnb"
	BankTEB        BankCode = "teb"
	BankING        BankCode = "ing"
	BankSeker      BankCode = "sekerbank"
	BankDenizbank  BankCode = "denizbank"
	BankKuveytTurk BankCode = "kuveytturk"
	BankIyzico     BankCode = "iyzico"
	BankPayTR      BankCode = "paytr"
	BankSigmapay   BankCode = "sigmapay"
)

var validBankCodes = map[BankCode]bool{
	BankGaranti: true, BankAkbank: true, BankIsbank: true, BankZiraat: true,
	BankHalkbank: true, BankVakifbank: true, BankYapiKredi: true, BankQNB: true,
	BankTEB: true, BankING: true, BankSeker: true, BankDenizbank: true,
	BankKuveytTurk: true, BankIyzico: true, BankPayTR: true, BankSigmapay: true,
}

// IsValid reports whether c is a known bank code.
func (c BankCode) IsValid() bool { return validBankCodes[c] }

// ValidCurrencies are the currencies terminals may be configured for.
var ValidCurrencies = map[string]bool{"try": true, "eur": true, "usd": true, "gbp": true}

// Credentials is the merchant's acquirer account. Password, SecretKey and
// Extra are stored encrypted; the sentinel in the ciphertext makes
// re-encryption on update a no-op.
type Credentials struct {
	MerchantID string `json:"merchantId"`
	TerminalID string `json:"terminalId"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	SecretKey  string `json:"secretKey,omitempty"`
	Extra      string `json:"extra,omitempty"` // provider-specific JSON, encrypted
}

// Secure3D is the terminal's 3-D Secure configuration.
type Secure3D struct {
	Enabled  bool   `json:"enabled"`
	Required bool   `json:"required"`
	StoreKey string `json:"storeKey,omitempty"` // encrypted at rest
	// AcceptedMDStatuses overrides the adapter's accepted 3-D status set
	// where the acquirer allows it (NestPay family). Empty means default.
	AcceptedMDStatuses []string `json:"acceptedMdStatuses,omitempty"`
}

// InstallmentCampaign grants extra installment counts for a card family or
// BIN prefix.
type InstallmentCampaign struct {
	CardFamily string  `json:"cardFamily,omitempty"`
	BinPrefix  string  `json:"binPrefix,omitempty"`
	Counts     []int   `json:"counts,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
}

// InstallmentConfig is the terminal's installment policy.
type InstallmentConfig struct {
	Enabled   bool                  `json:"enabled"`
	MinCount  int                   `json:"minCount,omitempty"`
	MaxCount  int                   `json:"maxCount,omitempty"`
	MinAmount float64               `json:"minAmount,omitempty"`
	Rates     map[int]float64       `json:"rates,omitempty"`
	Campaigns []InstallmentCampaign `json:"campaigns,omitempty"`
}

// CommissionPeriod is a time-indexed commission rate table.
type CommissionPeriod struct {
	From  time.Time       `json:"from"`
	To    time.Time       `json:"to"`
	Rates map[int]float64 `json:"rates"`
}

// Limits bound a single transaction on this terminal.
type Limits struct {
	MinAmount float64 `json:"minAmount,omitempty"`
	MaxAmount float64 `json:"maxAmount,omitempty"`
}

// Terminal binds one merchant company to one acquirer at one bank.
type Terminal struct {
	ID                    string             `json:"id"`
	Company               string             `json:"company"`
	Name                  string             `json:"name,omitempty"`
	BankCode              BankCode           `json:"bankCode"`
	Provider              string             `json:"provider"`
	Currencies            []string           `json:"currencies"`
	DefaultForCurrencies  []string           `json:"defaultForCurrencies,omitempty"`
	Priority              int                `json:"priority"`
	Status                bool               `json:"status"`
	TestMode              bool               `json:"testMode"`
	InsecureSkipVerify    bool               `json:"insecureSkipVerify,omitempty"` // per-terminal TLS relaxation for legacy endpoints
	Credentials           Credentials        `json:"credentials"`
	Secure3D              Secure3D           `json:"secure3d"`
	Installment           InstallmentConfig  `json:"installment"`
	Commissions           []CommissionPeriod `json:"commissions,omitempty"`
	Limits                Limits             `json:"limits,omitempty"`
	SupportedCardFamilies []string           `json:"supportedCardFamilies,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// SupportsCurrency reports whether the terminal accepts currency.
func (t *Terminal) SupportsCurrency(currency string) bool {
	for _, c := range t.Currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// IsDefaultFor reports whether the terminal is the company default for
// currency.
func (t *Terminal) IsDefaultFor(currency string) bool {
	for _, c := range t.DefaultForCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// TerminalStore persists terminals.
type TerminalStore struct {
	s *Store
}

func (ts *TerminalStore) validate(t *Terminal) error {
	if t.Company == "" {
		return payerr.New(payerr.KindValidation, "terminal company is required")
	}
	if !t.BankCode.IsValid() {
		return payerr.Newf(payerr.KindValidation, "unknown bank code %q", t.BankCode)
	}
	if t.Provider == "" {
		return payerr.New(payerr.KindValidation, "terminal provider is required")
	}
	if len(t.Currencies) == 0 {
		return payerr.New(payerr.KindValidation, "terminal needs at least one currency")
	}
	for _, c := range t.Currencies {
		if !ValidCurrencies[c] {
			return payerr.Newf(payerr.KindValidation, "invalid currency %q", c)
		}
	}
	for _, c := range t.DefaultForCurrencies {
		if !t.SupportsCurrency(c) {
			return payerr.Newf(payerr.KindValidation, "default currency %q not in currencies", c)
		}
	}
	return nil
}

// encryptCredentials applies field-level encryption where plaintext is
// detected. Already-encrypted values pass through unchanged.
func (ts *TerminalStore) encryptCredentials(t *Terminal) error {
	enc := ts.s.encryptor
	var err error
	if t.Credentials.Password, err = enc.Encrypt(t.Credentials.Password); err != nil {
		return err
	}
	if t.Credentials.SecretKey, err = enc.Encrypt(t.Credentials.SecretKey); err != nil {
		return err
	}
	if t.Credentials.Extra, err = enc.Encrypt(t.Credentials.Extra); err != nil {
		return err
	}
	if t.Secure3D.StoreKey, err = enc.Encrypt(t.Secure3D.StoreKey); err != nil {
		return err
	}
	return nil
}

// DecryptedCredentials returns a per-call clear view of the terminal's
// credentials and store key. The view must never be written back.
func (ts *TerminalStore) DecryptedCredentials(t *Terminal) (Credentials, string, error) {
	enc := ts.s.encryptor
	out := t.Credentials
	var err error
	if out.Password, err = enc.Decrypt(out.Password); err != nil {
		return Credentials{}, "", err
	}
	if out.SecretKey, err = enc.Decrypt(out.SecretKey); err != nil {
		return Credentials{}, "", err
	}
	if out.Extra, err = enc.Decrypt(out.Extra); err != nil {
		return Credentials{}, "", err
	}
	storeKey, err := enc.Decrypt(t.Secure3D.StoreKey)
	if err != nil {
		return Credentials{}, "", err
	}
	return out, storeKey, nil
}

// Create persists a new terminal, encrypting credentials on the way in.
// A duplicate (company, bankCode) pair fails with conflict.
func (ts *TerminalStore) Create(t *Terminal) error {
	if err := ts.validate(t); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := ts.encryptCredentials(t); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	return ts.s.retryOperation(func() error {
		_, err := ts.s.db.Exec(
			`INSERT INTO terminals (id, company, bank_code, provider, status, priority, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Company, string(t.BankCode), t.Provider, boolToInt(t.Status), t.Priority, string(data),
		)
		if isUniqueViolation(err) {
			return payerr.Newf(payerr.KindConflict, "terminal for (%s, %s) already exists", t.Company, t.BankCode)
		}
		return err
	}, 3)
}

// FindByID loads one terminal.
func (ts *TerminalStore) FindByID(id string) (*Terminal, error) {
	var data string
	err := ts.s.db.QueryRow(`SELECT data FROM terminals WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, payerr.Newf(payerr.KindNotFound, "terminal %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var t Terminal
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindForSelection returns the company's active terminals supporting
// currency, sorted by priority descending then insertion order.
func (ts *TerminalStore) FindForSelection(company, currency string) ([]*Terminal, error) {
	if !ValidCurrencies[currency] {
		return nil, payerr.Newf(payerr.KindValidation, "invalid currency %q", currency)
	}

	rows, err := ts.s.db.Query(
		`SELECT data FROM terminals WHERE company = ? AND status = 1 ORDER BY priority DESC, created_at ASC, rowid ASC`,
		company,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Terminal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t Terminal
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, err
		}
		if t.SupportsCurrency(currency) {
			out = append(out, &t)
		}
	}
	return out, rows.Err()
}

// Update re-persists a terminal, re-applying credential encryption where
// plaintext slipped in.
func (ts *TerminalStore) Update(t *Terminal) error {
	if err := ts.validate(t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	if err := ts.encryptCredentials(t); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	return ts.s.retryOperation(func() error {
		res, err := ts.s.db.Exec(
			`UPDATE terminals SET bank_code = ?, provider = ?, status = ?, priority = ?, data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			string(t.BankCode), t.Provider, boolToInt(t.Status), t.Priority, string(data), t.ID,
		)
		if isUniqueViolation(err) {
			return payerr.Newf(payerr.KindConflict, "terminal for (%s, %s) already exists", t.Company, t.BankCode)
		}
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return payerr.Newf(payerr.KindNotFound, "terminal %s not found", t.ID)
		}
		return nil
	}, 3)
}

// SetDefaultForCurrency makes the terminal the company default for currency,
// clearing the flag from every peer terminal of the same company first. The
// two steps run in one database transaction.
func (ts *TerminalStore) SetDefaultForCurrency(id, currency string) error {
	if !ValidCurrencies[currency] {
		return payerr.Newf(payerr.KindValidation, "invalid currency %q", currency)
	}

	target, err := ts.FindByID(id)
	if err != nil {
		return err
	}
	if !target.SupportsCurrency(currency) {
		return payerr.Newf(payerr.KindValidation, "terminal does not support currency %q", currency)
	}

	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()

	return ts.s.retryOperation(func() error {
		tx, err := ts.s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.Query(`SELECT id, data FROM terminals WHERE company = ?`, target.Company)
		if err != nil {
			return err
		}
		type pending struct {
			id   string
			data string
		}
		var updates []pending
		for rows.Next() {
			var rowID, data string
			if err := rows.Scan(&rowID, &data); err != nil {
				rows.Close()
				return err
			}
			var t Terminal
			if err := json.Unmarshal([]byte(data), &t); err != nil {
				rows.Close()
				return err
			}
			changed := false
			if rowID == id {
				if !t.IsDefaultFor(currency) {
					t.DefaultForCurrencies = append(t.DefaultForCurrencies, currency)
					changed = true
				}
			} else if t.IsDefaultFor(currency) {
				t.DefaultForCurrencies = removeString(t.DefaultForCurrencies, currency)
				changed = true
			}
			if changed {
				t.UpdatedAt = time.Now().UTC()
				newData, err := json.Marshal(&t)
				if err != nil {
					rows.Close()
					return err
				}
				updates = append(updates, pending{id: rowID, data: string(newData)})
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, u := range updates {
			if _, err := tx.Exec(`UPDATE terminals SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, u.data, u.id); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, 3)
}

// Delete removes a terminal.
func (ts *TerminalStore) Delete(id string) error {
	return ts.s.retryOperation(func() error {
		res, err := ts.s.db.Exec(`DELETE FROM terminals WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return payerr.Newf(payerr.KindNotFound, "terminal %s not found", id)
		}
		return nil
	}, 3)
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
