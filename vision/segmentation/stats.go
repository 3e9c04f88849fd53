package segmentation

import (
	"time"
)

// Stats counts what happened while segmenting one chunk.
type Stats struct {
	Candidates int
	Rounds     int

	SeedAttempts   int
	SeedsClaimed   int
	SeedsDiscarded int

	PairsCreated  int
	PairsRepushed int
	Merges        int
	// MinFoldAffinity is the lowest affinity of a pair that was folded, 0 before the first merge.
	MinFoldAffinity float64

	RefineDropped int
	Pruned        int

	// Durations holds the time spent per stage name, summed over rounds.
	Durations map[string]time.Duration
	Elapsed   time.Duration
}

func (s *Stats) addDuration(stage string, d time.Duration) {
	if s.Durations == nil {
		s.Durations = map[string]time.Duration{}
	}
	s.Durations[stage] += d
}

func (s *Stats) recordFold(affinity float64) {
	if s.Merges == 0 || affinity < s.MinFoldAffinity {
		s.MinFoldAffinity = affinity
	}
}
