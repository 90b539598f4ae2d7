package metrics

import (
	"sync"
	"time"
)

// TimeBucket is one interval of the live time series.
type TimeBucket struct {
	Timestamp  time.Time `json:"timestamp"`
	Iterations int64     `json:"iterations"`
	Failures   int64     `json:"failures"`
	Throughput float64   `json:"throughput"`
	ActiveVUs  int       `json:"activeVUs"`
	Phase      Phase     `json:"phase"`
}

// TimeBucketStore keeps the most recent buckets in a ring buffer so memory
// stays bounded on long runs.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int

	lastTime       time.Time
	lastIterations int64
	lastFailures   int64
}

// NewTimeBucketStore creates a store holding at most maxBuckets entries.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
	}
}

// Emit appends a bucket computed from cumulative totals. The per-bucket
// counts are deltas against the previous emission.
func (s *TimeBucketStore) Emit(now time.Time, totalIterations, totalFailures int64, activeVUs int, phase Phase) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := &TimeBucket{
		Timestamp:  now,
		Iterations: totalIterations - s.lastIterations,
		Failures:   totalFailures - s.lastFailures,
		ActiveVUs:  activeVUs,
		Phase:      phase,
	}
	if !s.lastTime.IsZero() {
		if interval := now.Sub(s.lastTime).Seconds(); interval > 0 {
			bucket.Throughput = float64(bucket.Iterations) / interval
		}
	}

	s.lastTime = now
	s.lastIterations = totalIterations
	s.lastFailures = totalFailures

	s.buckets[s.head] = bucket
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	return bucket
}

// Start sets the reference time used for the first bucket's throughput.
func (s *TimeBucketStore) Start(now time.Time) {
	s.mu.Lock()
	s.lastTime = now
	s.mu.Unlock()
}

// Buckets returns the stored buckets, oldest first.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TimeBucket, 0, s.count)
	start := (s.head - s.count + s.maxBuckets) % s.maxBuckets
	for i := 0; i < s.count; i++ {
		out = append(out, s.buckets[(start+i)%s.maxBuckets])
	}
	return out
}

// Latest returns the newest bucket, or nil if none was emitted.
func (s *TimeBucketStore) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// Len returns the number of stored buckets.
func (s *TimeBucketStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
