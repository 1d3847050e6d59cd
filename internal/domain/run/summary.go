package run

import (
	"sort"
	"sync"

	"costengine/internal/core/entity"
	"costengine/internal/core/types"
)

// ErrorPolicy decides what a unit failure does to the rest of the run.
type ErrorPolicy string

const (
	// OnErrorSkip logs and counts the failure; the run continues.
	OnErrorSkip ErrorPolicy = "skip"
	// OnErrorFail aborts the run at the first unit failure.
	OnErrorFail ErrorPolicy = "fail"
)

// ParseErrorPolicy accepts "skip" (default when empty) or "fail".
func ParseErrorPolicy(s string) (ErrorPolicy, bool) {
	switch ErrorPolicy(s) {
	case "", OnErrorSkip:
		return OnErrorSkip, true
	case OnErrorFail:
		return OnErrorFail, true
	}
	return "", false
}

// Failure describes one failed unit.
type Failure struct {
	Unit    entity.UnitKey `json:"unit"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
}

// Summary is returned by every run.
type Summary struct {
	RunID            string        `json:"runId"`
	UnitsProcessed   int           `json:"unitsProcessed"`
	UnitsSkipped     int           `json:"unitsSkipped"`
	UnitsFailed      int           `json:"unitsFailed"`
	BackfillsCreated int           `json:"backfillsCreated"`
	TotalCost        types.Money   `json:"totalCost"`
	Flags            []entity.Flag `json:"flags,omitempty"`
	Failures         []Failure     `json:"failures,omitempty"`
	Cancelled        bool          `json:"cancelled"`

	mu sync.Mutex
}

func newSummary(runID string) *Summary {
	return &Summary{RunID: runID, TotalCost: types.Zero()}
}

func (s *Summary) addProcessed(cost types.Money, backfills int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnitsProcessed++
	s.BackfillsCreated += backfills
	s.TotalCost = s.TotalCost.Add(cost)
}

func (s *Summary) addSkipped(cost types.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnitsSkipped++
	s.TotalCost = s.TotalCost.Add(cost)
}

func (s *Summary) addFailed(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnitsFailed++
	s.Failures = append(s.Failures, f)
}

func (s *Summary) addFlags(flags ...entity.Flag) {
	if len(flags) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Flags = append(s.Flags, flags...)
}

// FlagCount returns how many flags with code were raised.
func (s *Summary) FlagCount(code entity.FlagCode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.Flags {
		if f.Code == code {
			n++
		}
	}
	return n
}

func (s *Summary) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancelled = true
}

// finalize orders flags and failures so that summaries of identical runs
// compare equal regardless of lane scheduling.
func (s *Summary) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.SliceStable(s.Flags, func(i, j int) bool {
		a, b := s.Flags[i], s.Flags[j]
		if a.BranchID != b.BranchID {
			return a.BranchID.String() < b.BranchID.String()
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.SourceRef < b.SourceRef
	})
	sort.SliceStable(s.Failures, func(i, j int) bool {
		return s.Failures[i].Unit.String() < s.Failures[j].Unit.String()
	})
}
