package forumcache

import (
	"sync"
	"time"
)

const maxStatRecords = 4096

// OpRecord describes one store operation captured in debug mode.
type OpRecord struct {
	Key     string
	Op      string
	Size    int
	Elapsed time.Duration
}

// StatsSnapshot is a point-in-time copy of a store's debug statistics.
// Hits holds every recorded operation in order; Misses holds the reads
// that found nothing.
type StatsSnapshot struct {
	Count     int
	MissCount int
	Hits      []OpRecord
	Misses    []OpRecord
}

// Stats accumulates debug records. Record logs are bounded; counters are not.
type Stats struct {
	mu        sync.Mutex
	count     int
	missCount int
	hits      []OpRecord
	misses    []OpRecord
}

func (s *Stats) record(rec OpRecord, miss bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if len(s.hits) < maxStatRecords {
		s.hits = append(s.hits, rec)
	}
	if miss {
		s.missCount++
		if len(s.misses) < maxStatRecords {
			s.misses = append(s.misses, rec)
		}
	}
}

// Snapshot copies the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Count:     s.count,
		MissCount: s.missCount,
		Hits:      append([]OpRecord(nil), s.hits...),
		Misses:    append([]OpRecord(nil), s.misses...),
	}
}

// Reset discards all records and counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count, s.missCount = 0, 0
	s.hits, s.misses = nil, nil
}
