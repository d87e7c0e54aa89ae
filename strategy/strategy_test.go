package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/allocsim/memsim/ledger"
	"github.com/allocsim/memsim/strategy"
)

// fb builds a free-list entry the way BlockLedger.FreeBlocks would report it
func fb(index, start, size int) ledger.IndexedBlock {
	return ledger.IndexedBlock{
		Index: index,
		MemoryBlock: ledger.MemoryBlock{
			Start:  start,
			Size:   size,
			Status: ledger.BlockFree,
		},
	}
}

func TestFirstFitPicksLowestAddressFit(t *testing.T) {
	s := strategy.FirstFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 50),
		fb(2, 100, 200),
		fb(4, 400, 500),
	}

	pick, ok := s.SelectBlock(free, 150)
	require.True(t, ok)
	require.Equal(t, 2, pick.Index)
	require.Equal(t, 2, pick.Examined)
}

func TestFirstFitNoFit(t *testing.T) {
	s := strategy.FirstFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 50),
		fb(2, 100, 200),
	}

	pick, ok := s.SelectBlock(free, 201)
	require.False(t, ok)
	require.Equal(t, 2, pick.Examined)

	_, ok = s.SelectBlock(nil, 1)
	require.False(t, ok)
}

func TestBestFitPicksSmallestSufficient(t *testing.T) {
	s := strategy.BestFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 500),
		fb(2, 600, 120),
		fb(4, 800, 130),
	}

	pick, ok := s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 2, pick.Index)
	require.Equal(t, 3, pick.Examined)
}

func TestBestFitTieBreaksByLowestAddress(t *testing.T) {
	s := strategy.BestFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 120),
		fb(2, 600, 120),
	}

	pick, ok := s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 0, pick.Index)
}

func TestWorstFitPicksLargest(t *testing.T) {
	s := strategy.WorstFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 500),
		fb(2, 600, 120),
		fb(4, 800, 700),
	}

	pick, ok := s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 4, pick.Index)
}

func TestWorstFitTieBreaksByLowestAddress(t *testing.T) {
	s := strategy.WorstFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 500),
		fb(2, 600, 500),
	}

	pick, ok := s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 0, pick.Index)
}

func TestBestFitNeverExceedsWorstFit(t *testing.T) {
	snapshots := [][]ledger.IndexedBlock{
		{fb(0, 0, 100), fb(2, 200, 300), fb(4, 600, 150)},
		{fb(0, 0, 64), fb(2, 100, 64), fb(4, 200, 64)},
		{fb(0, 0, 1000)},
		{fb(0, 0, 90), fb(2, 100, 900), fb(4, 1100, 500), fb(6, 1700, 128)},
	}

	for _, free := range snapshots {
		for _, request := range []int{1, 64, 100, 128, 500} {
			best, bestOK := strategy.BestFit.New().SelectBlock(free, request)
			worst, worstOK := strategy.WorstFit.New().SelectBlock(free, request)
			require.Equal(t, bestOK, worstOK)

			if !bestOK {
				continue
			}

			var bestSize, worstSize int
			for _, block := range free {
				if block.Index == best.Index {
					bestSize = block.Size
				}
				if block.Index == worst.Index {
					worstSize = block.Size
				}
			}
			require.LessOrEqual(t, bestSize, worstSize)
		}
	}
}

func TestFirstAndNextFitAgreeOnFirstSelection(t *testing.T) {
	free := []ledger.IndexedBlock{
		fb(0, 0, 50),
		fb(2, 100, 200),
		fb(4, 400, 500),
	}

	for _, request := range []int{1, 50, 150, 500} {
		first, firstOK := strategy.FirstFit.New().SelectBlock(free, request)
		next, nextOK := strategy.NextFit.New().SelectBlock(free, request)

		require.Equal(t, firstOK, nextOK)
		if firstOK {
			require.Equal(t, first.Index, next.Index)
		}
	}
}

func TestNextFitResumesPastPreviousChoice(t *testing.T) {
	s := strategy.NextFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 200),
		fb(2, 300, 200),
		fb(4, 600, 200),
	}

	pick, ok := s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 0, pick.Index)

	// The block at address 0 still fits, but the cursor moved past it
	pick, ok = s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 2, pick.Index)

	pick, ok = s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 4, pick.Index)

	// Wraps back to the start after the last free block
	pick, ok = s.SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 0, pick.Index)
}

func TestNextFitFullLapFailure(t *testing.T) {
	s := strategy.NextFit.New()

	free := []ledger.IndexedBlock{
		fb(0, 0, 200),
		fb(2, 300, 100),
	}

	pick, ok := s.SelectBlock(free, 150)
	require.True(t, ok)
	require.Equal(t, 0, pick.Index)

	// Only the block behind the cursor could fit a 150-byte request, and it
	// is the one just used; a full wrap-around still finds it
	pick, ok = s.SelectBlock(free, 150)
	require.True(t, ok)
	require.Equal(t, 0, pick.Index)

	pick, ok = s.SelectBlock(free, 300)
	require.False(t, ok)
	require.Equal(t, 2, pick.Examined)

	_, ok = s.SelectBlock(nil, 1)
	require.False(t, ok)
}

func TestKindNewReturnsFreshCursor(t *testing.T) {
	free := []ledger.IndexedBlock{
		fb(0, 0, 200),
		fb(2, 300, 200),
	}

	s := strategy.NextFit.New()
	_, ok := s.SelectBlock(free, 100)
	require.True(t, ok)

	pick, ok := strategy.NextFit.New().SelectBlock(free, 100)
	require.True(t, ok)
	require.Equal(t, 0, pick.Index)
}

func TestParse(t *testing.T) {
	for name, expected := range map[string]strategy.Kind{
		"FF":        strategy.FirstFit,
		"ff":        strategy.FirstFit,
		"FirstFit":  strategy.FirstFit,
		"first-fit": strategy.FirstFit,
		"NF":        strategy.NextFit,
		"nextfit":   strategy.NextFit,
		"BF":        strategy.BestFit,
		"best-fit":  strategy.BestFit,
		"WF":        strategy.WorstFit,
		"worstfit":  strategy.WorstFit,
	} {
		kind, err := strategy.Parse(name)
		require.NoError(t, err, name)
		require.Equal(t, expected, kind, name)
	}

	_, err := strategy.Parse("buddy")
	require.Error(t, err)
}

func TestAllKindsOrder(t *testing.T) {
	require.Equal(t, []strategy.Kind{
		strategy.FirstFit,
		strategy.NextFit,
		strategy.BestFit,
		strategy.WorstFit,
	}, strategy.AllKinds())

	for _, kind := range strategy.AllKinds() {
		require.Equal(t, kind, kind.New().Kind())
	}
}
