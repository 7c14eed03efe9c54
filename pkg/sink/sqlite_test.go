package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := NewSQLiteSink(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSinkLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(ctx, testSnapshot("press-1", uint64(i+1), t0.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.Write(ctx, testSnapshot("press-2", 9, t0)))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	latest, err := s.Latest(ctx, "press-1")
	require.NoError(t, err)
	require.NotNil(t, latest)

	want := testSnapshot("press-1", 3, t0.Add(2*time.Second))
	assert.Equal(t, uint64(3), latest.Sequence)
	assert.True(t, latest.Timestamp.Equal(want.Timestamp))
	assert.Equal(t, 12*time.Millisecond, latest.Latency)
	assert.Equal(t, want.Values, latest.Values)
}

func TestSQLiteSinkLatestUnknownDevice(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.Latest(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLiteSinkSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write(ctx, testSnapshot("press-1", uint64(i), t0.Add(time.Duration(i)*time.Minute))))
	}

	samples, err := s.Series(ctx, "press-1", "temp", t0.Add(time.Minute), t0.Add(3*time.Minute))
	require.NoError(t, err)

	// int16 block of two words: one sample per word.
	require.Len(t, samples, 4)
	assert.Equal(t, uint64(1), samples[0].Sequence)
	assert.Equal(t, 0, samples[0].Index)
	assert.Equal(t, 1.0, samples[0].Value)
	assert.Equal(t, 1, samples[1].Index)
	assert.Equal(t, -1.0, samples[1].Value)
	assert.Equal(t, uint64(2), samples[2].Sequence)
	assert.True(t, samples[2].Timestamp.Equal(t0.Add(2*time.Minute)))

	none, err := s.Series(ctx, "press-1", "missing", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteSinkDuplicateIDRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("press-1", 1, t0)
	require.NoError(t, s.Write(ctx, snap))
	require.Error(t, s.Write(ctx, snap))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	samples, err := s.Series(ctx, "press-1", "count", t0, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}
