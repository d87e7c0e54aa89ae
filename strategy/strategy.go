package strategy

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/allocsim/memsim/ledger"
)

// Pick is the outcome of a single block selection. Examined counts the free blocks
// the strategy looked at before settling, whether or not the selection succeeded;
// it is the cost figure the efficiency metrics compare across strategies.
type Pick struct {
	// Index is the ledger index of the chosen free block
	Index int
	// Examined is the number of free blocks inspected during the scan
	Examined int
}

// Strategy selects which free block should satisfy an allocation request. Exactly
// one Strategy instance drives each simulation run; implementations may carry
// per-run state (NextFit's cursor), so instances must never be shared between runs.
//
// SelectBlock receives the ledger's free blocks in ascending address order and a
// request size already rounded to the allocation granularity. It returns the chosen
// block, or false when no free block is large enough. A strategy only reads the
// snapshot; the ledger mutation happens in the caller.
type Strategy interface {
	Kind() Kind
	SelectBlock(free []ledger.IndexedBlock, requestedSize int) (Pick, bool)
}

// Kind identifies one of the four placement algorithms
type Kind uint32

const (
	FirstFit Kind = iota
	NextFit
	BestFit
	WorstFit
)

var kindMapping = map[Kind]string{
	FirstFit: "FirstFit",
	NextFit:  "NextFit",
	BestFit:  "BestFit",
	WorstFit: "WorstFit",
}

var kindAbbrevMapping = map[Kind]string{
	FirstFit: "FF",
	NextFit:  "NF",
	BestFit:  "BF",
	WorstFit: "WF",
}

func (k Kind) String() string {
	return kindMapping[k]
}

// Abbrev returns the two-letter name conventionally used in comparison tables
func (k Kind) Abbrev() string {
	return kindAbbrevMapping[k]
}

// New creates a fresh Strategy instance of this kind with no carried-over state
func (k Kind) New() Strategy {
	switch k {
	case NextFit:
		return &nextFit{cursor: -1}
	case BestFit:
		return &bestFit{}
	case WorstFit:
		return &worstFit{}
	default:
		return &firstFit{}
	}
}

// AllKinds returns the four placement algorithms in their conventional comparison
// order
func AllKinds() []Kind {
	return []Kind{FirstFit, NextFit, BestFit, WorstFit}
}

// Parse maps a strategy name to its Kind. Both the full names ("BestFit",
// "best-fit") and the two-letter abbreviations ("BF") are accepted, case-
// insensitively.
func Parse(name string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "ff", "firstfit":
		return FirstFit, nil
	case "nf", "nextfit":
		return NextFit, nil
	case "bf", "bestfit":
		return BestFit, nil
	case "wf", "worstfit":
		return WorstFit, nil
	}

	return FirstFit, errors.Errorf("unknown placement strategy %q", name)
}

var _ Strategy = &firstFit{}
var _ Strategy = &nextFit{}
var _ Strategy = &bestFit{}
var _ Strategy = &worstFit{}

type firstFit struct{}

func (s *firstFit) Kind() Kind { return FirstFit }

func (s *firstFit) SelectBlock(free []ledger.IndexedBlock, requestedSize int) (Pick, bool) {
	for i := 0; i < len(free); i++ {
		if free[i].Size >= requestedSize {
			return Pick{Index: free[i].Index, Examined: i + 1}, true
		}
	}

	return Pick{Examined: len(free)}, false
}

// nextFit scans like firstFit, but begins each scan just past the block chosen by
// the previous successful selection and wraps around once. The cursor is the
// address of that block rather than a list index: free-list positions shift as the
// ledger splits and coalesces, while addresses stay meaningful across mutations.
type nextFit struct {
	cursor int
}

func (s *nextFit) Kind() Kind { return NextFit }

func (s *nextFit) SelectBlock(free []ledger.IndexedBlock, requestedSize int) (Pick, bool) {
	n := len(free)
	if n == 0 {
		return Pick{}, false
	}

	// First free block strictly past the cursor; wraps to 0 when the cursor
	// is at or past the last free block
	begin := 0
	for begin < n && free[begin].Start <= s.cursor {
		begin++
	}
	if begin == n {
		begin = 0
	}

	for j := 0; j < n; j++ {
		i := (begin + j) % n
		if free[i].Size >= requestedSize {
			s.cursor = free[i].Start
			return Pick{Index: free[i].Index, Examined: j + 1}, true
		}
	}

	return Pick{Examined: n}, false
}

type bestFit struct{}

func (s *bestFit) Kind() Kind { return BestFit }

func (s *bestFit) SelectBlock(free []ledger.IndexedBlock, requestedSize int) (Pick, bool) {
	bestIndex := -1
	bestSize := 0

	for i := 0; i < len(free); i++ {
		if free[i].Size < requestedSize {
			continue
		}

		// Strict comparison keeps the lowest-address block on size ties
		if bestIndex < 0 || free[i].Size < bestSize {
			bestIndex = free[i].Index
			bestSize = free[i].Size
		}
	}

	if bestIndex < 0 {
		return Pick{Examined: len(free)}, false
	}

	return Pick{Index: bestIndex, Examined: len(free)}, true
}

type worstFit struct{}

func (s *worstFit) Kind() Kind { return WorstFit }

func (s *worstFit) SelectBlock(free []ledger.IndexedBlock, requestedSize int) (Pick, bool) {
	worstIndex := -1
	worstSize := 0

	for i := 0; i < len(free); i++ {
		if free[i].Size < requestedSize {
			continue
		}

		// Strict comparison keeps the lowest-address block on size ties
		if worstIndex < 0 || free[i].Size > worstSize {
			worstIndex = free[i].Index
			worstSize = free[i].Size
		}
	}

	if worstIndex < 0 {
		return Pick{Examined: len(free)}, false
	}

	return Pick{Index: worstIndex, Examined: len(free)}, true
}
