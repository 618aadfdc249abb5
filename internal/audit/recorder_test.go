package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velro-ai/velro/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]models.AuditEntry
	err     error
}

func (f *fakeStore) InsertBatch(_ context.Context, entries []models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]models.AuditEntry, len(entries))
	copy(cp, entries)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeStore) Query(context.Context, Query) ([]models.AuditEntry, error) {
	return nil, nil
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func entry(userID uuid.UUID, decision string) models.AuditEntry {
	return models.AuditEntry{
		UserID:       userID,
		ResourceType: "project",
		ResourceID:   uuid.New(),
		Action:       "read",
		Decision:     decision,
		Role:         "owner",
		Source:       "ownership",
	}
}

func TestRecorderFlushesOnClose(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil)

	userID := uuid.New()
	for i := 0; i < 10; i++ {
		rec.Record(entry(userID, "permitted"))
	}
	rec.Close()

	assert.Equal(t, 10, store.total())
}

func TestRecorderBatchesLargeBursts(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil)

	for i := 0; i < flushBatchSize*3; i++ {
		rec.Record(entry(uuid.New(), "permitted"))
	}
	rec.Close()

	require.Equal(t, flushBatchSize*3, store.total())
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, b := range store.batches {
		assert.LessOrEqual(t, len(b), flushBatchSize)
	}
}

func TestRecorderStampsCreatedAt(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil)

	rec.Record(entry(uuid.New(), "denied"))
	rec.Close()

	require.Equal(t, 1, store.total())
	assert.WithinDuration(t, time.Now().UTC(), store.batches[0][0].CreatedAt, 5*time.Second)
}

func TestRecorderSurvivesStoreFailure(t *testing.T) {
	store := &fakeStore{err: context.DeadlineExceeded}
	rec := NewRecorder(store, nil)

	rec.Record(entry(uuid.New(), "permitted"))
	rec.Close() // must not panic or hang

	assert.Equal(t, 0, store.total())
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	rec := NewRecorder(&fakeStore{}, nil)
	rec.Record(entry(uuid.New(), "permitted"))
	rec.Close()
	rec.Close()
}

func TestRecorderDropsWhenBufferFull(t *testing.T) {
	// A store that blocks forever keeps the loop busy so the channel fills.
	blocked := make(chan struct{})
	store := &blockingStore{release: blocked}
	rec := &Recorder{
		store:   store,
		entries: make(chan models.AuditEntry, 2),
		done:    make(chan struct{}),
	}
	go rec.loop()

	for i := 0; i < 200; i++ {
		rec.Record(entry(uuid.New(), "permitted"))
	}
	// The buffer holds 2 plus whatever the loop pulled; everything else was
	// dropped without blocking this goroutine. Reaching this line at all is
	// the assertion.
	close(blocked)
	rec.Close()
}

type blockingStore struct {
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) InsertBatch(context.Context, []models.AuditEntry) error {
	b.once.Do(func() { <-b.release })
	return nil
}

func (b *blockingStore) Query(context.Context, Query) ([]models.AuditEntry, error) {
	return nil, nil
}
