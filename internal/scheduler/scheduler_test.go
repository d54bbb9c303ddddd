package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/la2shop/internal/catalog"
	"github.com/udisondev/la2shop/internal/counter"
	"github.com/udisondev/la2shop/internal/reset"
	"github.com/udisondev/la2shop/internal/testutil"
	"github.com/udisondev/la2shop/internal/timeofday"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var fridayEvening = reset.Weekly{Day: time.Friday, At: timeofday.MustParse("18:00"), Loc: time.UTC}

// smithCatalog: a shop reset weekly on Friday 18:00 holding a sword, and a
// potion with its own 30-minute cadence.
func smithCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	sword := testutil.Entity("smith", 0, "sword")
	potion := testutil.Entity("smith", 1, "potion")
	potion.Reset = reset.MinuteInterval{N: 30}
	shop := testutil.Shop("smith", sword, potion)
	shop.Reset = fridayEvening
	return testutil.Catalog(t, shop)
}

func seed(t *testing.T, store *counter.Store, items ...string) {
	t.Helper()
	ctx := context.Background()
	for _, item := range items {
		require.NoError(t, store.IncrementGlobal(ctx, item, 7))
		require.NoError(t, store.IncrementPlayer(ctx, "p1", item, 7))
	}
}

func TestTick_ShopScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := counter.NewStore(testutil.NewMemoryBackend())
	clk := &clock{now: testutil.Date(2026, time.March, 4, 10, 0)} // Wednesday
	s := New(testutil.StaticCatalog{C: smithCatalog(t)}, store, clk.Now)

	// Last reset was right before last Friday's occurrence.
	lastFriday := testutil.Date(2026, time.February, 27, 18, 0)
	require.NoError(t, store.SetLastReset(ctx, "shop:smith", lastFriday.UnixMilli()-1))
	require.NoError(t, store.SetLastReset(ctx, "item:smith:1:potion", clk.Now().UnixMilli()))
	seed(t, store, "sword", "potion")

	r := s.Tick(ctx, clk.Now())
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"shop:smith"}, r.Fired)
	assert.Equal(t, 2, r.Checked, "the sword has no rule of its own")
	assert.Equal(t, int64(0), store.GlobalCount("sword"))
	assert.Equal(t, int64(0), store.GlobalCount("potion"), "shop reset covers every item")
	assert.Equal(t, int64(7), store.PlayerCount("p1", "sword"), "player counters are lifetime totals")
	assert.Equal(t, clk.Now().UnixMilli(), store.LastReset("shop:smith"))

	// Same occurrence never fires twice.
	seed(t, store, "sword")
	r = s.Tick(ctx, testutil.Date(2026, time.March, 6, 17, 59))
	assert.NotContains(t, r.Fired, "shop:smith")
	assert.Equal(t, int64(7), store.GlobalCount("sword"))

	r = s.Tick(ctx, testutil.Date(2026, time.March, 6, 18, 0))
	assert.Contains(t, r.Fired, "shop:smith")
	assert.Equal(t, int64(0), store.GlobalCount("sword"))
}

func TestTick_ShopAlreadyRanForOccurrence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := counter.NewStore(testutil.NewMemoryBackend())
	lastFriday := testutil.Date(2026, time.February, 27, 18, 0)
	require.NoError(t, store.SetLastReset(ctx, "shop:smith", lastFriday.UnixMilli()))
	seed(t, store, "sword")

	s := New(testutil.StaticCatalog{C: smithCatalog(t)}, store, nil)
	r := s.Tick(ctx, testutil.Date(2026, time.March, 4, 10, 0))
	assert.NotContains(t, r.Fired, "shop:smith")
	assert.Equal(t, int64(7), store.GlobalCount("sword"))
}

func TestTick_ItemScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := counter.NewStore(testutil.NewMemoryBackend())
	s := New(testutil.StaticCatalog{C: smithCatalog(t)}, store, nil)

	start := testutil.Date(2026, time.March, 4, 12, 0)
	require.NoError(t, store.SetLastReset(ctx, "shop:smith", start.UnixMilli()))
	seed(t, store, "sword", "potion")

	r := s.Tick(ctx, start)
	assert.Equal(t, []string{"item:smith:1:potion"}, r.Fired)
	assert.Equal(t, int64(0), store.GlobalCount("potion"))
	assert.Equal(t, int64(7), store.GlobalCount("sword"), "item reset leaves siblings alone")

	seed(t, store, "potion")
	r = s.Tick(ctx, start.Add(29*time.Minute))
	assert.Empty(t, r.Fired)

	r = s.Tick(ctx, start.Add(30*time.Minute))
	assert.Equal(t, []string{"item:smith:1:potion"}, r.Fired)
	assert.Equal(t, int64(0), store.GlobalCount("potion"))
}

func TestTick_CatchUpAfterRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := testutil.NewMemoryBackend()
	cat := testutil.StaticCatalog{C: smithCatalog(t)}

	store := counter.NewStore(backend)
	first := testutil.Date(2026, time.March, 6, 18, 5)
	r := New(cat, store, nil).Tick(ctx, first)
	require.Contains(t, r.Fired, "shop:smith")
	seed(t, store, "sword")

	// Restart: state comes back from the backend, nothing fires again.
	store, err := counter.Open(ctx, backend)
	require.NoError(t, err)
	r = New(cat, store, nil).Tick(ctx, first.Add(time.Minute))
	assert.NotContains(t, r.Fired, "shop:smith")
	assert.Equal(t, int64(7), store.GlobalCount("sword"))

	// Down across three Fridays: exactly one catch-up reset.
	store, err = counter.Open(ctx, backend)
	require.NoError(t, err)
	s := New(cat, store, nil)
	later := first.AddDate(0, 0, 21).Add(time.Hour)
	r = s.Tick(ctx, later)
	assert.Contains(t, r.Fired, "shop:smith")
	assert.Equal(t, int64(0), store.GlobalCount("sword"))

	r = s.Tick(ctx, later.Add(time.Minute))
	assert.NotContains(t, r.Fired, "shop:smith")
}

func TestTick_OnceFiresOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	at := testutil.Date(2026, time.May, 1, 0, 0)
	event := testutil.Entity("fair", 0, "lantern")
	event.Reset = reset.Once{At: at}
	store := counter.NewStore(testutil.NewMemoryBackend())
	s := New(testutil.StaticCatalog{C: testutil.Catalog(t, testutil.Shop("fair", event))}, store, nil)

	assert.Empty(t, s.Tick(ctx, at.Add(-time.Second)).Fired)
	assert.Equal(t, []string{"item:fair:0:lantern"}, s.Tick(ctx, at.Add(time.Hour)).Fired)
	assert.Empty(t, s.Tick(ctx, at.AddDate(5, 0, 0)).Fired)
}

func TestTick_PersistenceFailureRetriesNextTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := testutil.NewMemoryBackend()
	store := counter.NewStore(backend)
	s := New(testutil.StaticCatalog{C: smithCatalog(t)}, store, nil)
	seed(t, store, "sword")

	now := testutil.Date(2026, time.March, 6, 18, 1)
	backend.FailSaves(2)
	r := s.Tick(ctx, now)
	require.Error(t, r.Err())
	assert.ErrorIs(t, r.Err(), counter.ErrPersistence)
	assert.Empty(t, r.Fired)
	assert.Equal(t, int64(7), store.GlobalCount("sword"))
	assert.Equal(t, int64(0), store.LastReset("shop:smith"))

	r = s.Tick(ctx, now.Add(time.Minute))
	require.NoError(t, r.Err())
	assert.Contains(t, r.Fired, "shop:smith")
	assert.Equal(t, int64(0), store.GlobalCount("sword"))
}

// reentrantCatalog ticks the scheduler from inside a running tick.
type reentrantCatalog struct {
	c      *catalog.Catalog
	s      *Scheduler
	nested Report
	state  State
}

func (r *reentrantCatalog) Snapshot() *catalog.Catalog {
	r.state = r.s.State()
	r.nested = r.s.Tick(context.Background(), time.Now())
	return r.c
}

func TestTick_OverlapSkipped(t *testing.T) {
	t.Parallel()

	src := &reentrantCatalog{c: smithCatalog(t)}
	src.s = New(src, counter.NewStore(testutil.NewMemoryBackend()), nil)

	r := src.s.Tick(context.Background(), time.Now())
	assert.False(t, r.Skipped)
	assert.True(t, src.nested.Skipped)
	assert.Equal(t, Checking, src.state)
	assert.Equal(t, Idle, src.s.State())
}

func TestManualResets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := counter.NewStore(testutil.NewMemoryBackend())
	clk := &clock{now: testutil.Date(2026, time.March, 4, 10, 0)}
	s := New(testutil.StaticCatalog{C: smithCatalog(t)}, store, clk.Now)

	seed(t, store, "sword", "potion")
	require.NoError(t, s.ResetItem(ctx, "potion"))
	assert.Equal(t, int64(0), store.GlobalCount("potion"))
	assert.Equal(t, int64(7), store.GlobalCount("sword"))
	assert.Equal(t, clk.Now().UnixMilli(), store.LastReset("item:smith:1:potion"))

	require.NoError(t, s.ResetShop(ctx, "smith"))
	assert.Equal(t, int64(0), store.GlobalCount("sword"))
	assert.Equal(t, clk.Now().UnixMilli(), store.LastReset("shop:smith"))

	// A manual reset counts as the run for the occurrence that already passed.
	assert.Empty(t, s.Tick(ctx, clk.Now()).Fired)

	seed(t, store, "sword", "potion")
	clk.Set(clk.Now().Add(time.Minute))
	require.NoError(t, s.ResetScope(ctx, "item:smith:0:sword"))
	assert.Equal(t, int64(0), store.GlobalCount("sword"))
	assert.Equal(t, int64(7), store.GlobalCount("potion"))

	require.NoError(t, s.ResetScope(ctx, "shop:smith"))
	assert.Equal(t, int64(0), store.GlobalCount("potion"))

	seed(t, store, "sword", "potion")
	require.NoError(t, s.ResetAll(ctx))
	assert.Equal(t, int64(0), store.GlobalCount("sword"))
	assert.Equal(t, int64(0), store.GlobalCount("potion"))
	assert.Equal(t, int64(21), store.PlayerCount("p1", "sword"))

	assert.ErrorIs(t, s.ResetShop(ctx, "tailor"), ErrUnknownShop)
	assert.ErrorIs(t, s.ResetItem(ctx, "cape"), ErrUnknownItem)
	assert.ErrorIs(t, s.ResetScope(ctx, "item:smith:9:cape"), ErrUnknownScope)
	assert.ErrorIs(t, s.ResetScope(ctx, "bogus"), ErrUnknownScope)
}

func TestRun_ChecksAtStartup(t *testing.T) {
	t.Parallel()

	store := counter.NewStore(testutil.NewMemoryBackend())
	seed(t, store, "sword")
	clk := &clock{now: testutil.Date(2026, time.March, 6, 18, 30)}
	s := New(testutil.StaticCatalog{C: smithCatalog(t)}, store, clk.Now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), store.GlobalCount("sword"))
	assert.Equal(t, clk.Now().UnixMilli(), store.LastReset("shop:smith"))

	assert.Error(t, s.Run(context.Background(), 0))
}
