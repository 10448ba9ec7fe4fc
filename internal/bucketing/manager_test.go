package bucketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"powerguard-service/internal/config"
)

func testManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{
			EventBuckets:         64,
			SessionBucketSeconds: 300,
		},
	})
}

func TestEventBucketStableAndInRange(t *testing.T) {
	bm := testManager()

	first := bm.GetEventBucket("device-123")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, bm.GetEventBucket("device-123"))
	}
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first, 64)
}

func TestEventBucketSpreadsKeys(t *testing.T) {
	bm := testManager()

	seen := make(map[int]bool)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		seen[bm.GetEventBucket(id)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestSessionBucketWindows(t *testing.T) {
	bm := testManager()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Same 5-minute window, same bucket
	require.Equal(t, bm.GetSessionBucket(base), bm.GetSessionBucket(base.Add(2*time.Minute)))
	require.Equal(t, bm.GetSessionBucket(base), bm.GetSessionBucket(base.Add(4*time.Minute+59*time.Second)))

	// Next window, different bucket
	require.NotEqual(t, bm.GetSessionBucket(base), bm.GetSessionBucket(base.Add(5*time.Minute)))
}

func TestDateBucket(t *testing.T) {
	bm := testManager()

	at := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "2025-03-01", bm.GetDateBucket(at))

	// Local times bucket on their UTC date
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2025, 3, 1, 22, 0, 0, 0, est)
	require.Equal(t, "2025-03-02", bm.GetDateBucket(late))
}
