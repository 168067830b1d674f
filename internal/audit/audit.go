// Package audit records authentication events, and mirrors transaction
// hashes of confirmed ledger writes as secondary records on a best-effort
// basis.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mentormesh/internal/ledger"
)

// Event is a structured audit entry for an auth operation.
type Event struct {
	Action   string
	Wallet   string
	UserID   string
	ClientIP string
	Success  bool
	Details  string
}

// Recorder writes events to the structured log and mirrors ledger receipts.
type Recorder struct {
	store    ledger.Store
	log      *logrus.Entry
	attempts int
	backoff  time.Duration
	wg       sync.WaitGroup
}

// NewRecorder returns a Recorder. store may be nil, in which case receipts
// are only logged.
func NewRecorder(store ledger.Store, log *logrus.Entry) *Recorder {
	return &Recorder{
		store:    store,
		log:      log,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

// Log records an audit event.
func (r *Recorder) Log(ev Event) {
	entry := r.log.WithFields(logrus.Fields{
		"action":  ev.Action,
		"success": ev.Success,
	})
	if ev.Wallet != "" {
		entry = entry.WithField("wallet", ev.Wallet)
	}
	if ev.UserID != "" {
		entry = entry.WithField("userId", ev.UserID)
	}
	if ev.ClientIP != "" {
		entry = entry.WithField("clientIp", ev.ClientIP)
	}
	if ev.Success {
		entry.Info(ev.Details)
	} else {
		entry.Warn(ev.Details)
	}
}

// RecordTx mirrors a confirmed write's transaction hash as a secondary audit
// record. The write happens asynchronously with bounded retries and a
// log-only failure path; the primary operation's result never depends on it.
func (r *Recorder) RecordTx(operation, walletAddr string, receipt ledger.Receipt) {
	if r.store == nil || receipt.TxHash == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		rec := ledger.AuditRecord{
			Operation: operation,
			Wallet:    walletAddr,
			EntityKey: receipt.Key,
			TxHash:    receipt.TxHash,
			At:        time.Now().UTC(),
		}
		for attempt := 1; attempt <= r.attempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := r.store.CreateAuditRecord(ctx, rec)
			cancel()
			if err == nil {
				return
			}
			if attempt == r.attempts {
				r.log.WithFields(logrus.Fields{
					"operation": operation,
					"tx":        receipt.TxHash,
				}).WithError(err).Warn("dropping tx record after retries")
				return
			}
			time.Sleep(r.backoff * time.Duration(attempt))
		}
	}()
}

// Wait blocks until all in-flight tx records have settled. Used on shutdown
// and in tests.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
