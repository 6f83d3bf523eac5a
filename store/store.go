// Package store persists the two core entities: terminals (merchant×acquirer
// bindings) and transactions (single payment attempts). Credentials and card
// fields are encrypted at write time; mutable transaction state lives in
// dedicated columns so status, logs and the 3-D bundle can be updated without
// rewriting each other.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/metinweb/ors-payment-service/infra/crypto"
)

// Store wraps the SQLite handle shared by the terminal and transaction stores.
type Store struct {
	db        *sql.DB
	encryptor *crypto.FieldEncryptor
	mu        sync.Mutex
}

// Open creates or opens the database at dbPath, applying the WAL and
// busy-timeout settings needed for concurrent request handling.
func Open(dbPath, encryptKey string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_timeout=20000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, encryptor: crypto.NewFieldEncryptor(encryptKey)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenInMemory opens a private in-memory database, used by tests. Each call
// gets its own database.
func OpenInMemory(encryptKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.New().String()))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, encryptor: crypto.NewFieldEncryptor(encryptKey)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS terminals (
		id TEXT PRIMARY KEY,
		company TEXT NOT NULL,
		bank_code TEXT NOT NULL,
		provider TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(company, bank_code)
	);
	CREATE INDEX IF NOT EXISTS idx_terminals_company ON terminals(company, status);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		terminal_id TEXT NOT NULL,
		company TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		data TEXT NOT NULL,
		secure TEXT NOT NULL DEFAULT '{}',
		result TEXT,
		logs TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		refunded_at DATETIME,
		cancelled_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_terminal ON transactions(terminal_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(company, status);
	`
	_, err := s.db.Exec(query)
	return err
}

// retryOperation re-runs a database operation when SQLite reports a busy
// database, with exponential backoff.
func (s *Store) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked") {
			lastErr = err
			if attempt < maxRetries {
				backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
				log.Printf("SQLite busy, retrying in %v (attempt %d/%d)", backoff, attempt+1, maxRetries+1)
				time.Sleep(backoff)
				continue
			}
		} else {
			return err
		}
	}
	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

// Terminals returns the terminal store.
func (s *Store) Terminals() *TerminalStore {
	return &TerminalStore{s: s}
}

// Transactions returns the transaction store.
func (s *Store) Transactions() *TransactionStore {
	return &TransactionStore{s: s}
}

// Encryptor exposes the field encryptor for callers that derive views.
func (s *Store) Encryptor() *crypto.FieldEncryptor { return s.encryptor }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
