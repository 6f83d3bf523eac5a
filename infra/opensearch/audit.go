// Package opensearch is the optional transaction audit sink: finalized
// transactions are indexed asynchronously and best-effort. Payments never
// wait on it and never fail because of it.
package opensearch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/metinweb/ors-payment-service/infra/config"
	"github.com/metinweb/ors-payment-service/store"
)

// Auditor indexes finalized transactions into per-provider indices.
type Auditor struct {
	client *opensearch.Client
	queue  chan *store.Transaction
	done   chan struct{}
}

// NewAuditor connects to OpenSearch and starts the indexing worker. Returns
// an error only when the configuration itself is unusable.
func NewAuditor(cfg *config.AppConfig) (*Auditor, error) {
	osConfig := opensearch.Config{
		Addresses: []string{cfg.OpenSearchURL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}
	if cfg.OpenSearchUser != "" && cfg.OpenSearchPass != "" {
		osConfig.Username = cfg.OpenSearchUser
		osConfig.Password = cfg.OpenSearchPass
	}

	client, err := opensearch.NewClient(osConfig)
	if err != nil {
		return nil, err
	}

	a := &Auditor{
		client: client,
		queue:  make(chan *store.Transaction, 256),
		done:   make(chan struct{}),
	}
	go a.worker()
	return a, nil
}

// Index queues a transaction for audit indexing. Never blocks: when the
// queue is full the entry is dropped.
func (a *Auditor) Index(tx *store.Transaction) {
	select {
	case a.queue <- tx:
	default:
		log.Printf("audit queue full, dropping transaction %s", tx.ID)
	}
}

// Close drains the queue and stops the worker.
func (a *Auditor) Close() {
	close(a.queue)
	<-a.done
}

func (a *Auditor) worker() {
	defer close(a.done)
	for tx := range a.queue {
		if err := a.index(tx); err != nil {
			log.Printf("audit index failed for transaction %s: %v", tx.ID, err)
		}
	}
}

// auditDocument is what gets indexed. It is built from the public projection
// plus the log trail; encrypted card fields never reach the index.
type auditDocument struct {
	Timestamp   time.Time             `json:"timestamp"`
	Transaction store.TransactionView `json:"transaction"`
	Company     string                `json:"company"`
	Provider    string                `json:"provider"`
	TerminalID  string                `json:"terminalId"`
	Logs        []store.LogEntry      `json:"logs,omitempty"`
	Secure      map[string]string     `json:"secure,omitempty"`
}

func (a *Auditor) index(tx *store.Transaction) error {
	doc := auditDocument{
		Timestamp:   time.Now().UTC(),
		Transaction: tx.View(),
		Company:     tx.Company,
		Provider:    tx.Provider,
		TerminalID:  tx.TerminalID,
		Logs:        tx.Logs,
		Secure: map[string]string{
			"eci": tx.Secure.ECI, "md": tx.Secure.MD,
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := opensearchapi.IndexRequest{
		Index:      IndexName(tx.Provider),
		DocumentID: tx.ID,
		Body:       strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Printf("audit index response for %s: %s", tx.ID, res.Status())
	}
	return nil
}

// IndexName returns the per-provider audit index.
func IndexName(provider string) string {
	return "payments-" + provider + "-audit"
}
