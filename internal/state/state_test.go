package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mpcrae/boardsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func item(priority models.Priority, enqueued time.Time) *models.SyncItem {
	return &models.SyncItem{
		ID:         "item-" + string(priority) + enqueued.Format("150405.000000000"),
		Kind:       models.KindAPIRequest,
		Priority:   priority,
		Status:     models.StatusPending,
		EnqueuedAt: enqueued,
	}
}

func TestEnqueue_DequeueOrder(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Enqueued low, high, normal; dequeue order must be high, normal, low.
	require.NoError(t, s.Enqueue(item(models.PriorityLow, base)))
	require.NoError(t, s.Enqueue(item(models.PriorityHigh, base.Add(time.Second))))
	require.NoError(t, s.Enqueue(item(models.PriorityNormal, base.Add(2*time.Second))))

	items, err := s.QueuedItems()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, models.PriorityHigh, items[0].Priority)
	assert.Equal(t, models.PriorityNormal, items[1].Priority)
	assert.Equal(t, models.PriorityLow, items[2].Priority)
}

func TestEnqueue_FIFOWithinPriority(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := item(models.PriorityNormal, base)
	first.ID = "first"
	second := item(models.PriorityNormal, base.Add(time.Minute))
	second.ID = "second"

	require.NoError(t, s.Enqueue(first))
	require.NoError(t, s.Enqueue(second))

	items, err := s.QueuedItems()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].ID)
	assert.Equal(t, "second", items[1].ID)
}

func TestEnqueue_SeqBreaksTimestampTies(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := item(models.PriorityHigh, at)
	a.ID = "a"
	b := item(models.PriorityHigh, at)
	b.ID = "b"

	require.NoError(t, s.Enqueue(a))
	require.NoError(t, s.Enqueue(b))
	assert.Less(t, a.Seq, b.Seq)

	items, err := s.QueuedItems()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
}

func TestDrain_EmptiesQueue(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Enqueue(item(models.PriorityHigh, base)))
	require.NoError(t, s.Enqueue(item(models.PriorityLow, base)))

	items, err := s.Drain()
	require.NoError(t, err)
	assert.Len(t, items, 2)

	n, err := s.QueueLen()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearQueue(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Enqueue(item(models.PriorityHigh, base)))
	require.NoError(t, s.Enqueue(item(models.PriorityNormal, base)))

	removed, err := s.ClearQueue()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := s.QueueLen()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	require.NoError(t, err)

	queued := item(models.PriorityHigh, time.Now().UTC())
	queued.ID = "survivor"
	require.NoError(t, s.Enqueue(queued))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.QueuedItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "survivor", items[0].ID)
}

func TestAppendRun_RingKeepsLastTen(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 15; i++ {
		run := models.SyncRun{
			ID:     string(rune('a' + i)),
			Status: models.RunCompleted,
		}
		require.NoError(t, s.AppendRun(run))
	}

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 10)
	// Oldest five were trimmed.
	assert.Equal(t, "f", runs[0].ID)
	assert.Equal(t, "o", runs[9].ID)
}

func TestConflictRefs_CRUD(t *testing.T) {
	s := openTestStore(t)

	ref := models.ConflictRef{
		ItemID:       "item-1",
		ConflictType: "field_divergence",
		DetectedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.SaveConflictRef(ref))

	refs, err := s.ConflictRefs()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ref.ItemID, refs[0].ItemID)
	assert.Equal(t, ref.ConflictType, refs[0].ConflictType)

	require.NoError(t, s.DeleteConflictRef("item-1"))

	refs, err = s.ConflictRefs()
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDeleteConflictRef_MissingIsNoop(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.DeleteConflictRef("nope"))
}

func TestLastConnected_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LastConnected()
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, s.SetLastConnected(at))

	got, err = s.LastConnected()
	require.NoError(t, err)
	assert.True(t, at.Equal(got))
}
