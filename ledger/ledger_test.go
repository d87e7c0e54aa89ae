package ledger_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/allocsim/memsim"
	"github.com/allocsim/memsim/ledger"
)

func newTestLedger(t *testing.T, heapSize, unitSize int) *ledger.BlockLedger {
	segments, err := ledger.NewSegmentModel(0, 0, heapSize)
	require.NoError(t, err)

	l, err := ledger.NewBlockLedger(segments, unitSize)
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	return l
}

func TestLedgerStartsAsSingleFreeBlock(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	require.Equal(t, 1000, l.Size())
	require.Equal(t, 1000, l.TotalFree())
	require.Equal(t, 0, l.TotalAllocated())
	require.Equal(t, 0, l.AllocationCount())

	free := l.FreeBlocks()
	require.Len(t, free, 1)
	require.Equal(t, 0, free[0].Start)
	require.Equal(t, 1000, free[0].Size)
	require.Equal(t, ledger.BlockFree, free[0].Status)
}

func TestLedgerScenarioFirstFitPlacement(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	// Requests of 200, 300, 200 placed front-to-back
	block, err := l.Allocate(1, 200, 0)
	require.NoError(t, err)
	require.Equal(t, 0, block.Start)
	require.Equal(t, 200, block.Size)
	require.NoError(t, l.Validate())

	block, err = l.Allocate(2, 300, 1)
	require.NoError(t, err)
	require.Equal(t, 200, block.Start)
	require.Equal(t, 300, block.Size)
	require.NoError(t, l.Validate())

	block, err = l.Allocate(3, 200, 2)
	require.NoError(t, err)
	require.Equal(t, 500, block.Start)
	require.Equal(t, 200, block.Size)
	require.NoError(t, l.Validate())

	free := l.FreeBlocks()
	require.Len(t, free, 1)
	require.Equal(t, 700, free[0].Start)
	require.Equal(t, 300, free[0].Size)
	require.Equal(t, 300, l.TotalFree())

	// Freeing P2 leaves a hole; P1 and P3 are not adjacent to other free
	// space, so nothing coalesces
	_, err = l.Free(2)
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	free = l.FreeBlocks()
	require.Len(t, free, 2)
	require.Equal(t, 200, free[0].Start)
	require.Equal(t, 300, free[0].Size)
	require.Equal(t, 700, free[1].Start)
	require.Equal(t, 300, free[1].Size)

	// Freeing P1 merges with the hole left by P2
	_, err = l.Free(1)
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	free = l.FreeBlocks()
	require.Len(t, free, 2)
	require.Equal(t, 0, free[0].Start)
	require.Equal(t, 500, free[0].Size)
	require.Equal(t, 700, free[1].Start)
	require.Equal(t, 300, free[1].Size)
}

func TestLedgerConservesHeapSize(t *testing.T) {
	l := newTestLedger(t, 4096, 8)

	processes := []struct {
		id   ledger.ProcessID
		size int
	}{
		{1, 100}, {2, 37}, {3, 512}, {4, 1}, {5, 900},
	}

	for _, p := range processes {
		free := l.FreeBlocks()
		require.NotEmpty(t, free)

		_, err := l.Allocate(p.id, p.size, free[0].Index)
		require.NoError(t, err)
		require.NoError(t, l.Validate())
		require.Equal(t, 4096, l.TotalFree()+l.TotalAllocated())
	}

	for _, id := range []ledger.ProcessID{2, 4, 1, 5, 3} {
		_, err := l.Free(id)
		require.NoError(t, err)
		require.NoError(t, l.Validate())
		require.Equal(t, 4096, l.TotalFree()+l.TotalAllocated())
	}

	// Everything freed: back to a single block covering the heap
	free := l.FreeBlocks()
	require.Len(t, free, 1)
	require.Equal(t, 4096, free[0].Size)
}

func TestLedgerRoundsRequestsUpToUnits(t *testing.T) {
	l := newTestLedger(t, 4096, 8)
	require.Equal(t, 8, l.UnitSize())
	require.Equal(t, 40, l.RoundRequest(37))
	require.Equal(t, 40, l.RoundRequest(40))

	block, err := l.Allocate(1, 37, 0)
	require.NoError(t, err)
	require.Equal(t, 40, block.Size)
	require.Equal(t, 37, block.AllocatedSize)
	require.Equal(t, 3, block.InternalFragmentation())
	require.NoError(t, l.Validate())

	// Exact multiples waste nothing
	block, err = l.Allocate(2, 64, 1)
	require.NoError(t, err)
	require.Equal(t, 64, block.Size)
	require.Equal(t, 0, block.InternalFragmentation())
}

func TestLedgerAllocateFreeRoundTrip(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	_, err := l.Allocate(1, 400, 0)
	require.NoError(t, err)

	_, err = l.Free(1)
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	free := l.FreeBlocks()
	require.Len(t, free, 1)
	require.Equal(t, 0, free[0].Start)
	require.Equal(t, 1000, free[0].Size)
}

func TestLedgerFreeUnknownProcess(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	_, err := l.Free(99)
	require.ErrorIs(t, err, memsim.ErrUnknownProcess)

	_, err = l.Allocate(1, 100, 0)
	require.NoError(t, err)

	_, err = l.Free(1)
	require.NoError(t, err)

	// Double free is the same anomaly
	_, err = l.Free(1)
	require.ErrorIs(t, err, memsim.ErrUnknownProcess)
}

func TestLedgerAllocateInsufficientSpace(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	_, err := l.Allocate(1, 1001, 0)
	require.ErrorIs(t, err, memsim.ErrInsufficientSpace)
	require.NoError(t, l.Validate())
	require.Equal(t, 1000, l.TotalFree())

	// Allocating into a non-free block is the same defect
	_, err = l.Allocate(2, 100, 0)
	require.NoError(t, err)

	_, err = l.Allocate(3, 50, 0)
	require.ErrorIs(t, err, memsim.ErrInsufficientSpace)
}

func TestLedgerRejectsDuplicateAllocations(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	_, err := l.Allocate(1, 100, 0)
	require.NoError(t, err)

	free := l.FreeBlocks()
	_, err = l.Allocate(1, 100, free[0].Index)
	require.Error(t, err)
}

func TestLedgerExhaustiveCoalescing(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	// Fill the heap completely with four adjacent allocations
	for i, size := range []int{250, 250, 250, 250} {
		free := l.FreeBlocks()
		_, err := l.Allocate(ledger.ProcessID(i+1), size, free[0].Index)
		require.NoError(t, err)
	}
	require.Equal(t, 0, l.TotalFree())

	// Free the outer two, then one inner: freeing the last inner block must
	// merge across both neighbors in a single operation
	_, err := l.Free(1)
	require.NoError(t, err)
	_, err = l.Free(3)
	require.NoError(t, err)

	_, err = l.Free(2)
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	free := l.FreeBlocks()
	require.Len(t, free, 1)
	require.Equal(t, 0, free[0].Start)
	require.Equal(t, 750, free[0].Size)
}

func TestLedgerReclaimMatchesFreeMechanics(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	_, err := l.Allocate(1, 100, 0)
	require.NoError(t, err)

	block, err := l.Reclaim(1)
	require.NoError(t, err)
	require.Equal(t, 100, block.Size)
	require.NoError(t, l.Validate())
	require.Equal(t, 1000, l.TotalFree())

	_, err = l.Reclaim(1)
	require.ErrorIs(t, err, memsim.ErrUnknownProcess)
}

func TestLedgerOwnersAndOwned(t *testing.T) {
	l := newTestLedger(t, 1000, 1)

	for i, size := range []int{100, 200, 50} {
		free := l.FreeBlocks()
		_, err := l.Allocate(ledger.ProcessID(10-i), size, free[0].Index)
		require.NoError(t, err)
	}

	require.Equal(t, []ledger.ProcessID{8, 9, 10}, l.Owners())

	block, ok := l.Owned(9)
	require.True(t, ok)
	require.Equal(t, 100, block.Start)
	require.Equal(t, 200, block.Size)

	_, ok = l.Owned(42)
	require.False(t, ok)
}

func TestLedgerDetailedStatistics(t *testing.T) {
	l := newTestLedger(t, 1000, 8)

	_, err := l.Allocate(1, 100, 0)
	require.NoError(t, err)

	free := l.FreeBlocks()
	_, err = l.Allocate(2, 37, free[0].Index)
	require.NoError(t, err)

	var stats memsim.DetailedStatistics
	stats.Clear()
	l.AddDetailedStatistics(&stats)

	require.Equal(t, memsim.DetailedStatistics{
		Statistics: memsim.Statistics{
			AllocationCount: 2,
			AllocationBytes: 144,
			RequestedBytes:  137,
			FreeBytes:       856,
		},
		FreeRegionCount:   1,
		AllocationSizeMin: 40,
		AllocationSizeMax: 104,
		FreeRegionSizeMin: 856,
		FreeRegionSizeMax: 856,
	}, stats)
	require.Equal(t, 7, stats.InternalFragmentation())
}

func TestLedgerDetailedStatisticsEmpty(t *testing.T) {
	l := newTestLedger(t, 1000, 8)

	var stats memsim.DetailedStatistics
	stats.Clear()
	l.AddDetailedStatistics(&stats)

	require.Equal(t, memsim.DetailedStatistics{
		Statistics: memsim.Statistics{
			FreeBytes: 1000,
		},
		FreeRegionCount:   1,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeRegionSizeMin: 1000,
		FreeRegionSizeMax: 1000,
	}, stats)
}

func TestLedgerRejectsBadUnitSize(t *testing.T) {
	segments, err := ledger.NewSegmentModel(0, 0, 1000)
	require.NoError(t, err)

	_, err = ledger.NewBlockLedger(segments, 12)
	require.ErrorIs(t, err, memsim.PowerOfTwoError)

	_, err = ledger.NewBlockLedger(segments, 0)
	require.Error(t, err)
}

func TestLedgerTrimsUnalignedHeap(t *testing.T) {
	segments, err := ledger.NewSegmentModel(0, 0, 1001)
	require.NoError(t, err)

	l, err := ledger.NewBlockLedger(segments, 8)
	require.NoError(t, err)

	// The trailing byte cannot hold a whole unit
	require.Equal(t, 1000, l.Size())
	require.Equal(t, 1000, l.TotalFree())
	require.NoError(t, l.Validate())
}

func TestLedgerRejectsHeapSmallerThanOneUnit(t *testing.T) {
	segments, err := ledger.NewSegmentModel(0, 0, 5)
	require.NoError(t, err)

	_, err = ledger.NewBlockLedger(segments, 8)
	require.Error(t, err)
}

func TestLedgerHeapOffsetFromSegments(t *testing.T) {
	segments, err := ledger.NewSegmentModel(256, 128, 1024)
	require.NoError(t, err)

	l, err := ledger.NewBlockLedger(segments, 8)
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	require.Equal(t, 640, l.Size())

	block, err := l.Allocate(1, 64, 0)
	require.NoError(t, err)
	require.Equal(t, 384, block.Start)
}
