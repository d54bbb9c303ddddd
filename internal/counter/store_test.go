package counter_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"pgregory.net/rapid"

	"github.com/udisondev/la2shop/internal/counter"
	"github.com/udisondev/la2shop/internal/counter/mocks"
	"github.com/udisondev/la2shop/internal/testutil"
)

func TestStore_IncrementAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := testutil.NewMemoryBackend()
	s := counter.NewStore(backend)

	require.NoError(t, s.IncrementGlobal(ctx, "sword", 7))
	require.NoError(t, s.IncrementGlobal(ctx, "sword", -2))
	assert.Equal(t, int64(5), s.GlobalCount("sword"))
	assert.Equal(t, int64(5), backend.Count(counter.GlobalKey("sword")))

	require.NoError(t, s.IncrementPlayer(ctx, "p1", "sword", 3))
	require.NoError(t, s.ResetGlobal(ctx, "sword"))

	assert.Equal(t, int64(0), s.GlobalCount("sword"))
	assert.Equal(t, int64(0), backend.Count(counter.GlobalKey("sword")))
	assert.Equal(t, int64(3), s.PlayerCount("p1", "sword"), "player counts survive resets")
	assert.Equal(t, 4, backend.Saves(), "one durable write per mutation")
}

func TestStore_ConcurrentAccumulation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := counter.NewStore(testutil.NewMemoryBackend())

	const workers, per = 16, 50
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range per {
				delta := int64(1)
				if (w+i)%3 == 0 {
					delta = -1
				}
				assert.NoError(t, s.IncrementGlobal(ctx, "gem", delta))
				assert.NoError(t, s.IncrementPlayer(ctx, "p", "gem", 1))
			}
		}()
	}
	wg.Wait()

	var want int64
	for w := range workers {
		for i := range per {
			if (w+i)%3 == 0 {
				want--
			} else {
				want++
			}
		}
	}
	assert.Equal(t, want, s.GlobalCount("gem"))
	assert.Equal(t, int64(workers*per), s.PlayerCount("p", "gem"))
}

func TestStore_AccumulationProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		s := counter.NewStore(testutil.NewMemoryBackend())
		start := rapid.Int64Range(-1000, 1000).Draw(rt, "start")
		deltas := rapid.SliceOf(rapid.Int64Range(-100, 100)).Draw(rt, "deltas")

		if err := s.IncrementGlobal(ctx, "k", start); err != nil {
			rt.Fatal(err)
		}
		var wg sync.WaitGroup
		for _, d := range deltas {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.IncrementGlobal(ctx, "k", d)
			}()
		}
		wg.Wait()

		want := start
		for _, d := range deltas {
			want += d
		}
		if got := s.GlobalCount("k"); got != want {
			rt.Fatalf("global count = %d, want %d", got, want)
		}
	})
}

func TestStore_ApplyBounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := counter.NewStore(testutil.NewMemoryBackend())

	player := counter.PlayerKey("p1", "potion")
	global := counter.GlobalKey("potion")

	before, err := s.Apply(ctx,
		counter.Op{Key: player, Delta: 3, Max: 5},
		counter.Op{Key: global, Delta: 3, Max: 10},
	)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, before)

	// Player bound fails: neither counter moves.
	before, err = s.Apply(ctx,
		counter.Op{Key: player, Delta: 3, Max: 5},
		counter.Op{Key: global, Delta: 3, Max: 10},
	)
	require.ErrorIs(t, err, counter.ErrLimitExceeded)
	var le *counter.LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, player, le.Key)
	assert.Equal(t, int64(3), le.Count)
	assert.Equal(t, int64(5), le.Max)
	assert.Equal(t, int64(3), before[0])
	assert.Equal(t, int64(3), s.Count(player))
	assert.Equal(t, int64(3), s.Count(global))

	_, err = s.Apply(ctx, counter.Op{Key: global, Delta: -4, NonNegative: true})
	require.ErrorIs(t, err, counter.ErrLimitExceeded)
	assert.Equal(t, int64(3), s.Count(global))

	// Repeated key within one call sees its own earlier op.
	before, err = s.Apply(ctx,
		counter.Op{Key: global, Delta: 2, Max: 10},
		counter.Op{Key: global, Delta: 2, Max: 10},
	)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, before)
	assert.Equal(t, int64(7), s.Count(global))
}

func TestStore_ApplyLimitUnderContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := counter.NewStore(testutil.NewMemoryBackend())
	key := counter.PlayerKey("p1", "ticket")

	const attempts = 40
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Apply(ctx, counter.Op{Key: key, Delta: 3, Max: 10})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, counter.ErrLimitExceeded)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, int64(9), s.Count(key))
}

func TestStore_PersistenceFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := testutil.NewMemoryBackend()
	s := counter.NewStore(backend)

	require.NoError(t, s.IncrementGlobal(ctx, "ore", 4))
	require.NoError(t, s.SetLastReset(ctx, "shop:mine", 1000))

	backend.FailSaves(3)
	err := s.IncrementGlobal(ctx, "ore", 1)
	require.ErrorIs(t, err, counter.ErrPersistence)
	require.ErrorIs(t, err, testutil.ErrSimulated)

	err = s.ResetScope(ctx, "shop:mine", 2000, "ore")
	require.ErrorIs(t, err, counter.ErrPersistence)

	err = s.SetLastReset(ctx, "shop:mine", 3000)
	require.ErrorIs(t, err, counter.ErrPersistence)

	assert.Equal(t, int64(4), s.GlobalCount("ore"))
	assert.Equal(t, int64(1000), s.LastReset("shop:mine"))
	assert.Equal(t, int64(1000), backend.LastReset("shop:mine"))

	// Retry succeeds once the backend recovers.
	require.NoError(t, s.IncrementGlobal(ctx, "ore", 1))
	assert.Equal(t, int64(5), s.GlobalCount("ore"))
}

func TestStore_ResetScopeSingleBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	s := counter.NewStore(backend)

	gomock.InOrder(
		backend.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(2),
		backend.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, b counter.Batch) error {
				assert.ElementsMatch(t, []counter.CountRow{
					{Key: counter.GlobalKey("a")},
					{Key: counter.GlobalKey("b")},
				}, b.Counts)
				assert.Equal(t, []counter.ResetRow{{Scope: "shop:s", FiredAt: 42}}, b.Resets)
				return nil
			}),
	)

	require.NoError(t, s.IncrementGlobal(ctx, "a", 2))
	require.NoError(t, s.IncrementGlobal(ctx, "b", 3))
	require.NoError(t, s.ResetScope(ctx, "shop:s", 42, "a", "b"))

	assert.Equal(t, int64(0), s.GlobalCount("a"))
	assert.Equal(t, int64(0), s.GlobalCount("b"))
	assert.Equal(t, int64(42), s.LastReset("shop:s"))
}

func TestStore_MockSaveError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	s := counter.NewStore(backend)

	disk := errors.New("disk full")
	backend.EXPECT().Save(gomock.Any(), gomock.Any()).Return(disk)

	_, err := s.Apply(context.Background(),
		counter.Op{Key: counter.PlayerKey("p", "x"), Delta: 1},
		counter.Op{Key: counter.GlobalKey("x"), Delta: 1},
	)
	require.ErrorIs(t, err, counter.ErrPersistence)
	require.ErrorIs(t, err, disk)
	assert.Empty(t, s.Snapshot())
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("loads state", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		backend := mocks.NewMockBackend(ctrl)
		backend.EXPECT().Load(gomock.Any()).Return(counter.Batch{
			Counts: []counter.CountRow{
				{Key: counter.PlayerKey("p1", "axe"), Count: 2},
				{Key: counter.GlobalKey("axe"), Count: 9},
			},
			Resets: []counter.ResetRow{{Scope: "item:smith:0:axe", FiredAt: 77}},
		}, nil)

		s, err := counter.Open(context.Background(), backend)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{
			"players.p1.axe":             2,
			"global.axe":                 9,
			"lastReset.item:smith:0:axe": 77,
		}, s.Snapshot())
	})

	t.Run("load error", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		backend := mocks.NewMockBackend(ctrl)
		backend.EXPECT().Load(gomock.Any()).Return(counter.Batch{}, testutil.ErrSimulated)

		_, err := counter.Open(context.Background(), backend)
		require.ErrorIs(t, err, testutil.ErrSimulated)
	})
}

func TestKey_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  counter.Key
		want string
	}{
		{counter.GlobalKey("bread"), "global.bread"},
		{counter.PlayerKey("42", "bread"), "players.42.bread"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestStore_ApplyGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := counter.NewStore(testutil.NewMemoryBackend())
	require.NoError(t, s.IncrementGlobal(ctx, "gold", 4))

	var seen int64
	stop := errors.New("stop")
	_, err := s.Apply(ctx,
		counter.Op{Key: counter.PlayerKey("p", "gold"), Delta: 1},
		counter.Op{Key: counter.GlobalKey("gold"), Delta: 1, Guard: func(count int64) error {
			seen = count
			if count >= 4 {
				return stop
			}
			return nil
		}},
	)
	require.ErrorIs(t, err, stop)
	assert.Equal(t, int64(4), seen)
	assert.Equal(t, int64(0), s.PlayerCount("p", "gold"), "guard aborts every op")
	assert.Equal(t, int64(4), s.GlobalCount("gold"))
}

func TestStore_ApplyOverflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := testutil.NewMemoryBackend()
	s := counter.NewStore(backend)

	player := counter.PlayerKey("p1", "x")
	global := counter.GlobalKey("x")
	_, err := s.Apply(ctx,
		counter.Op{Key: player, Delta: 2, Max: 5},
		counter.Op{Key: global, Delta: 2, Max: 10},
	)
	require.NoError(t, err)

	_, err = s.Apply(ctx,
		counter.Op{Key: player, Delta: math.MaxInt64 - 1, Max: 5},
		counter.Op{Key: global, Delta: math.MaxInt64 - 1, Max: 10},
	)
	require.ErrorIs(t, err, counter.ErrLimitExceeded)
	var le *counter.LimitError
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Overflow)
	assert.Equal(t, player, le.Key)

	assert.Equal(t, int64(2), s.Count(player))
	assert.Equal(t, int64(2), s.Count(global))
	assert.Equal(t, int64(2), backend.Count(player))
	assert.Equal(t, int64(2), backend.Count(global))

	tests := []struct {
		name  string
		start int64
		delta int64
	}{
		{"above max int64", math.MaxInt64 - 3, 4},
		{"below min int64", math.MinInt64 + 3, -4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := counter.NewStore(testutil.NewMemoryBackend())
			require.NoError(t, s.IncrementGlobal(ctx, "k", tt.start))

			err := s.IncrementGlobal(ctx, "k", tt.delta)
			require.ErrorIs(t, err, counter.ErrLimitExceeded)
			assert.Equal(t, tt.start, s.GlobalCount("k"))
		})
	}
}

func TestStore_ResetScopeIfDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := testutil.NewMemoryBackend()
	s := counter.NewStore(backend)

	require.NoError(t, s.IncrementGlobal(ctx, "ore", 4))

	fired, err := s.ResetScopeIfDue(ctx, "shop:mine", 1000, 1500, "ore")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, int64(0), s.GlobalCount("ore"))
	assert.Equal(t, int64(1500), s.LastReset("shop:mine"))

	// Trades after the reset survive a second attempt for the same occurrence.
	require.NoError(t, s.IncrementGlobal(ctx, "ore", 3))
	fired, err = s.ResetScopeIfDue(ctx, "shop:mine", 1000, 1600, "ore")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, int64(3), s.GlobalCount("ore"))
	assert.Equal(t, int64(1500), backend.LastReset("shop:mine"))

	// A manual reset recorded after the occurrence covers it too.
	require.NoError(t, s.ResetScope(ctx, "shop:mine", 2500, "ore"))
	require.NoError(t, s.IncrementGlobal(ctx, "ore", 1))
	fired, err = s.ResetScopeIfDue(ctx, "shop:mine", 2000, 2600, "ore")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, int64(1), s.GlobalCount("ore"))

	fired, err = s.ResetScopeIfDue(ctx, "shop:mine", 3000, 3000, "ore")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, int64(0), s.GlobalCount("ore"))

	_, err = s.ResetScopeIfDue(ctx, "", 1, 1, "ore")
	assert.Error(t, err)
}

// journal records the persisted value of one key in write order. Writes to a
// key happen under its lock, so the journal order is the commit order.
type journal struct {
	*testutil.MemoryBackend
	key counter.Key

	mu     sync.Mutex
	values []int64
}

func (j *journal) Save(ctx context.Context, b counter.Batch) error {
	if err := j.MemoryBackend.Save(ctx, b); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, row := range b.Counts {
		if row.Key == j.key {
			j.values = append(j.values, row.Count)
		}
	}
	return nil
}

func TestStore_ResetConcurrentWithApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := counter.GlobalKey("gem")
	backend := &journal{MemoryBackend: testutil.NewMemoryBackend(), key: key}
	s := counter.NewStore(backend)

	const workers, per, resets = 8, 100, 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range per {
				_, err := s.Apply(ctx,
					counter.Op{Key: counter.PlayerKey("p", "gem"), Delta: 1},
					counter.Op{Key: key, Delta: 1},
				)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range resets {
			assert.NoError(t, s.ResetScope(ctx, "shop:gems", int64(i+1), "gem"))
		}
	}()
	wg.Wait()

	// Every write is either a reset to zero or one more than the write before.
	var prev int64
	for i, v := range backend.values {
		if v != 0 && v != prev+1 {
			t.Fatalf("write %d: value %d after %d", i, v, prev)
		}
		prev = v
	}
	assert.Len(t, backend.values, workers*per+resets)
	assert.Equal(t, prev, s.GlobalCount("gem"))
	assert.Equal(t, s.GlobalCount("gem"), backend.Count(key))
	assert.Equal(t, int64(workers*per), s.PlayerCount("p", "gem"), "player counts are never reset")
	assert.Equal(t, int64(resets), s.LastReset("shop:gems"))
}
