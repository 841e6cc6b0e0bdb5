package buffer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/diagnostics"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/store"
)

func persisted(t *testing.T, st store.Store, key string) string {
	t.Helper()

	v, ok, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "key %s should be persisted", key)
	return v
}

func absent(t *testing.T, st store.Store, key string) {
	t.Helper()

	_, ok, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok, "key %s should have been removed", key)
}

func newStarted(t *testing.T, st store.Store, maxItems int) (*StoredBuffer, *diagnostics.MockThrower) {
	t.Helper()

	diag := &diagnostics.MockThrower{}
	b := NewStoredBuffer(Options{MaxItems: maxItems, KeyPrefix: "beacon"}, st, diag)
	require.NoError(t, b.Start())
	return b, diag
}

func TestStoredBufferLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	b, diag := newStarted(t, st, 10)

	absent(t, st, "beacon_buffer")
	absent(t, st, "beacon_sentBuffer")

	b.Enqueue(`{"n":1}`)
	b.Enqueue(`{"n":2}`)
	b.Enqueue(`{"n":3}`)
	assert.Equal(t, `["{\"n\":1}","{\"n\":2}","{\"n\":3}"]`, persisted(t, st, "beacon_buffer"))

	batch := b.GetItems()[:2]
	b.MarkAsSent(batch)
	assert.Equal(t, []string{`{"n":3}`}, b.GetItems())
	assert.Equal(t, batch, b.InFlight())
	assert.Equal(t, `["{\"n\":3}"]`, persisted(t, st, "beacon_buffer"))
	assert.Equal(t, `["{\"n\":1}","{\"n\":2}"]`, persisted(t, st, "beacon_sentBuffer"))

	b.ClearSent(batch[:1])
	assert.Equal(t, []string{`{"n":2}`}, b.InFlight())

	b.Requeue(batch[1:])
	assert.Equal(t, []string{`{"n":2}`, `{"n":3}`}, b.GetItems())
	assert.Empty(t, b.InFlight())
	absent(t, st, "beacon_sentBuffer")

	b.Clear()
	assert.Equal(t, 0, b.Count())
	absent(t, st, "beacon_buffer")
	assert.Empty(t, diag.Thrown)
}

func TestStoredBufferRecovery(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "beacon_buffer", `["a","b"]`))
	require.NoError(t, st.Set(ctx, "beacon_sentBuffer", `["c"]`))

	b, diag := newStarted(t, st, 10)
	assert.Equal(t, []string{"a", "b", "c"}, b.GetItems())
	assert.Empty(t, b.InFlight())
	assert.Equal(t, `["a","b","c"]`, persisted(t, st, "beacon_buffer"))
	absent(t, st, "beacon_sentBuffer")
	assert.Empty(t, diag.Thrown)
}

func TestStoredBufferRecoverySurvivesRestart(t *testing.T) {
	fs := &store.FileStore{
		Config: &config.MockConfig{GetStoreConfigVal: config.StoreConfig{Path: "/beacon"}},
		Logger: &logger.NullLogger{},
		Fs:     afero.NewMemMapFs(),
	}
	require.NoError(t, fs.Start())

	first, _ := newStarted(t, fs, 10)
	first.Enqueue("one")
	first.Enqueue("two")
	first.Enqueue("three")
	first.MarkAsSent([]string{"one", "two"})
	// the process ends here with one and two never confirmed

	second, _ := newStarted(t, fs, 10)
	assert.Equal(t, []string{"three", "one", "two"}, second.GetItems())
}

func TestStoredBufferRecoveryTruncatesToCap(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "beacon_buffer", `["a","b","c"]`))
	require.NoError(t, st.Set(ctx, "beacon_sentBuffer", `["d","e"]`))

	b, _ := newStarted(t, st, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, b.GetItems())
}

func TestStoredBufferInFlightOverflowIsCleared(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "beacon_buffer", `["a"]`))
	require.NoError(t, st.Set(ctx, "beacon_sentBuffer", `["b","c","d"]`))

	b, diag := newStarted(t, st, 2)
	assert.Equal(t, []string{"a"}, b.GetItems())
	assert.Equal(t, 1, diag.Count(diagnostics.InFlightOverflow))
	absent(t, st, "beacon_sentBuffer")
}

func TestStoredBufferCorruptListIsEmpty(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "beacon_buffer", `{not json`))
	require.NoError(t, st.Set(ctx, "beacon_sentBuffer", `["x"]`))

	b, diag := newStarted(t, st, 10)
	assert.Equal(t, []string{"x"}, b.GetItems())
	assert.Equal(t, 1, diag.Count(diagnostics.StoreReadFailed))
}

func TestStoredBufferBoundWarnsOncePerPageView(t *testing.T) {
	b, diag := newStarted(t, store.NewMemoryStore(), 5)

	accepted := 0
	for i := 0; i < 50; i++ {
		if b.Enqueue(fmt.Sprintf("item-%d", i)) {
			accepted++
		}
		assert.LessOrEqual(t, b.Count(), 5)
	}
	assert.Equal(t, 5, accepted)
	assert.Equal(t, 1, diag.Count(diagnostics.BufferFull))

	b.ResetPageView()
	assert.False(t, b.Enqueue("again"))
	assert.False(t, b.Enqueue("and again"))
	assert.Equal(t, 2, diag.Count(diagnostics.BufferFull))
}

type failingStore struct {
	store.Store
}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("unavailable")
}

func (failingStore) Set(context.Context, string, string) error {
	return errors.New("unavailable")
}

func (failingStore) Remove(context.Context, string) error {
	return errors.New("unavailable")
}

func TestStoredBufferWithFailingStore(t *testing.T) {
	b, diag := newStarted(t, failingStore{}, 10)

	assert.True(t, b.Enqueue("a"))
	assert.Equal(t, []string{"a"}, b.GetItems())
	assert.Equal(t, 2, diag.Count(diagnostics.StoreReadFailed))
	assert.GreaterOrEqual(t, diag.Count(diagnostics.StoreWriteFailed), 1)
}
