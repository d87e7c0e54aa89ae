package engine

import (
	"github.com/allocsim/memsim"
	"github.com/allocsim/memsim/ledger"
)

// FragmentationSnapshot captures the fragmentation state of a ledger at a single
// point on the simulation timeline
type FragmentationSnapshot struct {
	// InternalBytes is the total space wasted inside allocated blocks by
	// granularity rounding
	InternalBytes int
	// ExternalBytes is the total free space in the heap, however scattered
	ExternalBytes int
	// FreeRegions is the number of distinct free blocks the free space is
	// split across
	FreeRegions int
	// LargestFree is the size of the largest single free block
	LargestFree int
}

// FragmentationTracker computes internal and external fragmentation for one
// ledger. Every figure is derived from live ledger state at call time, so the
// tracker can never serve stale numbers at a cycle boundary.
type FragmentationTracker struct {
	ledger *ledger.BlockLedger
}

func NewFragmentationTracker(l *ledger.BlockLedger) *FragmentationTracker {
	return &FragmentationTracker{ledger: l}
}

// Internal returns the total bytes wasted inside allocated blocks: the sum over
// all allocated blocks of the difference between the rounded block size and the
// size the owner requested
func (t *FragmentationTracker) Internal() int {
	var stats memsim.DetailedStatistics
	stats.Clear()
	t.ledger.AddDetailedStatistics(&stats)

	return stats.InternalFragmentation()
}

// External returns the total free space in the heap
func (t *FragmentationTracker) External() int {
	return t.ledger.TotalFree()
}

// ExternalFor returns the portion of free space sitting in blocks individually too
// small to satisfy a pending request of the provided byte size. This is the free-
// but-unusable space relevant to a denied allocation.
func (t *FragmentationTracker) ExternalFor(pendingRequestSize int) int {
	rounded := t.ledger.RoundRequest(pendingRequestSize)

	var fragmented int
	free := t.ledger.FreeBlocks()
	for i := 0; i < len(free); i++ {
		if free[i].Size < rounded {
			fragmented += free[i].Size
		}
	}

	return fragmented
}

// Snapshot captures the current fragmentation state of the ledger
func (t *FragmentationTracker) Snapshot() FragmentationSnapshot {
	return FragmentationSnapshot{
		InternalBytes: t.Internal(),
		ExternalBytes: t.External(),
		FreeRegions:   t.ledger.FreeRegionCount(),
		LargestFree:   t.ledger.LargestFree(),
	}
}
