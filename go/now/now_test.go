package now

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowDefaultsToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	require.False(t, got.Before(before))
}

func TestNowFromContextValue(t *testing.T) {
	ts := time.Unix(0, 12).UTC()
	ctx := context.WithValue(context.Background(), ContextKey, ts)
	require.Equal(t, ts, Now(ctx))
}

func TestTimeTravelingContext(t *testing.T) {
	start := time.Unix(1700000000, 0)
	ctx := TimeTravelingContext(start)
	require.Equal(t, start, Now(ctx))

	later := start.Add(2 * time.Minute)
	ctx.SetTime(later)
	require.Equal(t, later, Now(ctx))
}
