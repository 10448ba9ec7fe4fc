package bucketing

import (
	"hash"
	"sync"
	"time"

	"powerguard-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager computes stable partition buckets for event rows and the
// creation-time bucket that keys idempotent session opens.
type BucketingManager struct {
	eventBuckets  int
	sessionWindow int
	hasherPool    sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		eventBuckets:  cfg.Bucketing.EventBuckets,
		sessionWindow: cfg.Bucketing.SessionBucketSeconds,
	}

	// Pool of hash functions to avoid allocation overhead on hot paths
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEventBucket returns a consistent bucket (0 to eventBuckets-1) for an
// identifier, used as the event table partition key component.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	hash := bm.getHash(identifier)
	return int(hash % uint64(bm.eventBuckets))
}

// GetSessionBucket returns the creation-time bucket for idempotent session
// creation: triggers landing within the same window map to the same bucket.
func (bm *BucketingManager) GetSessionBucket(at time.Time) int64 {
	w := int64(bm.sessionWindow)
	return at.Unix() / w * w
}

// GetDateBucket returns the UTC date partition for event rows.
func (bm *BucketingManager) GetDateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
