package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentormesh/internal/ledger"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

// flakyStore fails CreateAuditRecord a fixed number of times before
// succeeding.
type flakyStore struct {
	ledger.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) CreateAuditRecord(ctx context.Context, rec ledger.AuditRecord) (ledger.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return ledger.Receipt{}, errors.New("transient node failure")
	}
	return s.Store.CreateAuditRecord(ctx, rec)
}

func TestRecordTxMirrorsReceipt(t *testing.T) {
	store := ledger.NewMemoryStore()
	rec := NewRecorder(store, testLog())

	rec.RecordTx("identity.create", "0xaaaa", ledger.Receipt{Key: "k1", TxHash: "0xfeed"})
	rec.Wait()

	records := store.AuditRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "identity.create", records[0].Operation)
	assert.Equal(t, "0xfeed", records[0].TxHash)
	assert.Equal(t, "k1", records[0].EntityKey)
	assert.False(t, records[0].At.IsZero())
}

func TestRecordTxRetriesTransientFailures(t *testing.T) {
	mem := ledger.NewMemoryStore()
	store := &flakyStore{Store: mem, failures: 2}
	rec := NewRecorder(store, testLog())
	rec.backoff = 0

	rec.RecordTx("backup.link", "0xaaaa", ledger.Receipt{Key: "k1", TxHash: "0xfeed"})
	rec.Wait()

	assert.Equal(t, 3, store.calls)
	assert.Len(t, mem.AuditRecords(), 1)
}

func TestRecordTxDropsAfterRetriesExhausted(t *testing.T) {
	mem := ledger.NewMemoryStore()
	store := &flakyStore{Store: mem, failures: 10}
	rec := NewRecorder(store, testLog())
	rec.backoff = 0

	rec.RecordTx("identity.create", "0xaaaa", ledger.Receipt{Key: "k1", TxHash: "0xfeed"})
	rec.Wait()

	// Bounded retries; the failure is logged and the record dropped
	assert.Equal(t, 3, store.calls)
	assert.Empty(t, mem.AuditRecords())
}

func TestRecordTxSkipsWithoutStoreOrHash(t *testing.T) {
	rec := NewRecorder(nil, testLog())
	rec.RecordTx("identity.create", "0xaaaa", ledger.Receipt{TxHash: "0xfeed"})
	rec.Wait()

	store := ledger.NewMemoryStore()
	rec = NewRecorder(store, testLog())
	rec.RecordTx("identity.create", "0xaaaa", ledger.Receipt{})
	rec.Wait()
	assert.Empty(t, store.AuditRecords())
}
