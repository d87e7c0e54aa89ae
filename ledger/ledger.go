package ledger

import (
	"sort"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"

	"github.com/allocsim/memsim"
)

// BlockLedger is the authoritative record of every block, free or allocated, in the
// heap segment of a single simulation run. Blocks are kept ordered by address,
// contiguous, and non-overlapping; together they always cover the heap exactly.
// Adjacent free blocks are coalesced as soon as a deallocation creates them, so no
// two free blocks are ever neighbors.
//
// A ledger is exclusively owned by one run and is not safe for concurrent use.
type BlockLedger struct {
	heapStart int
	heapSize  int
	unitSize  int

	blocks    []MemoryBlock
	records   *swiss.Map[ProcessID, int]
	freeBytes int
}

// NewBlockLedger creates a ledger covering the heap segment of the provided
// SegmentModel with a single free block. unitSize is the allocation granularity in
// bytes and must be a power of two; byte requests round up to whole units. A heap
// that is not a whole number of units is trimmed to one: the trailing bytes could
// never hold an allocation.
func NewBlockLedger(segments *SegmentModel, unitSize int) (*BlockLedger, error) {
	if unitSize < 1 {
		return nil, errors.Errorf("invalid allocation unit size: %d", unitSize)
	}

	err := memsim.CheckPow2(uint(unitSize), "allocation unit size")
	if err != nil {
		return nil, err
	}

	heapStart, heapSize := segments.HeapBounds()
	heapSize = memsim.AlignDown(heapSize, uint(unitSize))
	if heapSize < 1 {
		return nil, errors.Errorf("the heap segment cannot hold a single %d-byte allocation unit", unitSize)
	}

	return &BlockLedger{
		heapStart: heapStart,
		heapSize:  heapSize,
		unitSize:  unitSize,

		blocks: []MemoryBlock{
			{
				Start:  heapStart,
				Size:   heapSize,
				Status: BlockFree,
			},
		},
		records:   swiss.NewMap[ProcessID, int](42),
		freeBytes: heapSize,
	}, nil
}

// Size returns the full extent of the managed heap segment in bytes
func (l *BlockLedger) Size() int {
	return l.heapSize
}

// UnitSize returns the allocation granularity in bytes
func (l *BlockLedger) UnitSize() int {
	return l.unitSize
}

// RoundRequest rounds a byte request up to the allocation granularity. The result
// is the Size a block allocated for the request would have.
func (l *BlockLedger) RoundRequest(requestedSize int) int {
	return memsim.RoundUpUnits(requestedSize, l.unitSize) * l.unitSize
}

// TotalFree returns the number of free bytes in the heap, regardless of how they
// are scattered
func (l *BlockLedger) TotalFree() int {
	return l.freeBytes
}

// TotalAllocated returns the number of bytes currently inside allocated blocks,
// including bytes lost to rounding
func (l *BlockLedger) TotalAllocated() int {
	return l.heapSize - l.freeBytes
}

// AllocationCount returns the number of live allocations in the ledger
func (l *BlockLedger) AllocationCount() int {
	return l.records.Count()
}

// FreeBlocks returns the free blocks of the ledger in ascending address order,
// each paired with its current ledger index. The returned slice is a snapshot:
// any mutation of the ledger invalidates the indexes.
func (l *BlockLedger) FreeBlocks() []IndexedBlock {
	free := make([]IndexedBlock, 0, len(l.blocks))
	for i := 0; i < len(l.blocks); i++ {
		if l.blocks[i].Status == BlockFree {
			free = append(free, IndexedBlock{Index: i, MemoryBlock: l.blocks[i]})
		}
	}

	return free
}

// FreeRegionCount returns the number of distinct free blocks in the heap
func (l *BlockLedger) FreeRegionCount() int {
	var count int
	for i := 0; i < len(l.blocks); i++ {
		if l.blocks[i].Status == BlockFree {
			count++
		}
	}

	return count
}

// LargestFree returns the size in bytes of the largest free block, or 0 when the
// heap is fully allocated
func (l *BlockLedger) LargestFree() int {
	var largest int
	for i := 0; i < len(l.blocks); i++ {
		if l.blocks[i].Status == BlockFree && l.blocks[i].Size > largest {
			largest = l.blocks[i].Size
		}
	}

	return largest
}

// Owners returns the ids of every process with a live allocation, in ascending
// order
func (l *BlockLedger) Owners() []ProcessID {
	owners := make([]ProcessID, 0, l.records.Count())
	l.records.Iter(func(process ProcessID, start int) bool {
		owners = append(owners, process)
		return false
	})
	slices.Sort(owners)

	return owners
}

// Owned returns a copy of the block currently backing the provided process, if any
func (l *BlockLedger) Owned(process ProcessID) (MemoryBlock, bool) {
	start, ok := l.records.Get(process)
	if !ok {
		return MemoryBlock{}, false
	}

	return l.blocks[l.blockIndexForStart(start)], true
}

func (l *BlockLedger) blockIndexForStart(start int) int {
	return sort.Search(len(l.blocks), func(i int) bool {
		return l.blocks[i].Start >= start
	})
}

// Allocate carves an allocation for the provided process out of the free block at
// atIndex. The request rounds up to the allocation granularity; the difference
// between the rounded size and requestedSize becomes the block's internal
// fragmentation. Any leftover space stays behind as a new free block immediately
// after the allocation.
//
// The block at atIndex must be free and large enough for the rounded request-
// placement strategies guarantee this, so a memsim.ErrInsufficientSpace return
// indicates a strategy bug rather than a workload condition.
func (l *BlockLedger) Allocate(process ProcessID, requestedSize int, atIndex int) (MemoryBlock, error) {
	if requestedSize < 1 {
		return MemoryBlock{}, errors.Errorf("invalid request size: %d", requestedSize)
	}

	if atIndex < 0 || atIndex >= len(l.blocks) {
		return MemoryBlock{}, errors.Errorf("block index %d does not exist in a ledger of %d blocks", atIndex, len(l.blocks))
	}

	if l.records.Has(process) {
		return MemoryBlock{}, errors.Errorf("process %d already holds an allocation", process)
	}

	rounded := l.RoundRequest(requestedSize)
	target := l.blocks[atIndex]

	if target.Status != BlockFree {
		return MemoryBlock{}, errors.Wrapf(memsim.ErrInsufficientSpace, "block at offset %d is not free", target.Start)
	}

	if target.Size < rounded {
		return MemoryBlock{}, errors.Wrapf(memsim.ErrInsufficientSpace, "block at offset %d holds %d bytes, but %d were requested", target.Start, target.Size, rounded)
	}

	leftover := target.Size - rounded

	l.blocks[atIndex] = MemoryBlock{
		Start:         target.Start,
		Size:          rounded,
		Status:        BlockAllocated,
		Owner:         process,
		AllocatedSize: requestedSize,
	}

	if leftover > 0 {
		remainder := MemoryBlock{
			Start:  target.Start + rounded,
			Size:   leftover,
			Status: BlockFree,
		}
		l.blocks = append(l.blocks, MemoryBlock{})
		copy(l.blocks[atIndex+2:], l.blocks[atIndex+1:])
		l.blocks[atIndex+1] = remainder
	}

	l.records.Put(process, target.Start)
	l.freeBytes -= rounded

	return l.blocks[atIndex], nil
}

// Free releases the allocation held by the provided process and exhaustively
// coalesces the freed block with any free neighbors. It returns a copy of the
// block as it was while allocated.
//
// Freeing a process with no live allocation returns memsim.ErrUnknownProcess.
// That is a workload anomaly rather than a fatal condition: the event stream may
// model processes that free twice or never allocated.
func (l *BlockLedger) Free(process ProcessID) (MemoryBlock, error) {
	return l.release(process)
}

// Reclaim releases the allocation held by a process whose lifetime already ended
// without an explicit free. Mechanically it is identical to Free, but it exists as
// a separate operation so garbage-collection sweeps over lost objects stay
// distinguishable from well-behaved deallocations in the event stream and in
// accounting.
func (l *BlockLedger) Reclaim(process ProcessID) (MemoryBlock, error) {
	return l.release(process)
}

func (l *BlockLedger) release(process ProcessID) (MemoryBlock, error) {
	start, ok := l.records.Get(process)
	if !ok {
		return MemoryBlock{}, errors.Wrapf(memsim.ErrUnknownProcess, "process %d", process)
	}

	index := l.blockIndexForStart(start)
	if index >= len(l.blocks) || l.blocks[index].Start != start || l.blocks[index].Owner != process {
		return MemoryBlock{}, errors.Errorf("allocation record for process %d points at offset %d, but no block owned by it lives there", process, start)
	}

	released := l.blocks[index]

	l.blocks[index].Status = BlockFree
	l.blocks[index].Owner = 0
	l.blocks[index].AllocatedSize = 0
	l.freeBytes += released.Size

	l.coalesce(index)
	l.records.Delete(process)

	return released, nil
}

// coalesce merges the free block at index with every adjacent free neighbor until
// none remain on either side
func (l *BlockLedger) coalesce(index int) {
	for index+1 < len(l.blocks) && l.blocks[index+1].Status == BlockFree {
		l.blocks[index].Size += l.blocks[index+1].Size
		l.blocks = append(l.blocks[:index+1], l.blocks[index+2:]...)
	}

	for index > 0 && l.blocks[index-1].Status == BlockFree {
		l.blocks[index-1].Size += l.blocks[index].Size
		l.blocks = append(l.blocks[:index], l.blocks[index+1:]...)
		index--
	}
}

// Validate performs internal consistency checks on the ledger. When the ledger is
// functioning correctly it should not be possible for this method to return an
// error, but it may assist in diagnosing defects in the ledger or the strategies
// driving it.
func (l *BlockLedger) Validate() error {
	if len(l.blocks) == 0 {
		return errors.New("the ledger has no blocks, but must always cover the heap")
	}

	var calculatedSize, calculatedFree, allocCount int
	nextOffset := l.heapStart

	for i := 0; i < len(l.blocks); i++ {
		block := l.blocks[i]

		if block.Start != nextOffset {
			return errors.Errorf("block %d starts at offset %d, but the previous block ended at %d", i, block.Start, nextOffset)
		}

		if block.Size < 1 {
			return errors.Errorf("block %d at offset %d has invalid size %d", i, block.Start, block.Size)
		}

		if block.Size%l.unitSize != 0 {
			return errors.Errorf("block %d at offset %d has size %d, which is not a multiple of the %d-byte allocation unit", i, block.Start, block.Size, l.unitSize)
		}

		switch block.Status {
		case BlockFree:
			calculatedFree += block.Size

			if i > 0 && l.blocks[i-1].Status == BlockFree {
				return errors.Errorf("blocks %d and %d are both free but were never coalesced", i-1, i)
			}
		case BlockAllocated:
			allocCount++

			if block.AllocatedSize < 1 || block.AllocatedSize > block.Size {
				return errors.Errorf("block at offset %d has size %d but an allocated size of %d", block.Start, block.Size, block.AllocatedSize)
			}

			recordStart, ok := l.records.Get(block.Owner)
			if !ok {
				return errors.Errorf("block at offset %d is owned by process %d, but no allocation record exists for it", block.Start, block.Owner)
			}

			if recordStart != block.Start {
				return errors.Errorf("process %d owns the block at offset %d, but its allocation record points at offset %d", block.Owner, block.Start, recordStart)
			}
		default:
			return errors.Errorf("block at offset %d has unknown status %d", block.Start, block.Status)
		}

		calculatedSize += block.Size
		nextOffset = block.End()
	}

	if calculatedSize != l.heapSize {
		return errors.Errorf("the heap segment is %d bytes, but the blocks only added up to %d", l.heapSize, calculatedSize)
	}

	if calculatedFree != l.freeBytes {
		return errors.Errorf("the free size of the ledger is %d, but the free blocks only added up to %d", l.freeBytes, calculatedFree)
	}

	if allocCount != l.records.Count() {
		return errors.Errorf("the ledger has %d allocated blocks, but %d allocation records", allocCount, l.records.Count())
	}

	return nil
}

// AddDetailedStatistics sums this ledger's allocation statistics into the
// statistics currently present in the provided memsim.DetailedStatistics object
func (l *BlockLedger) AddDetailedStatistics(stats *memsim.DetailedStatistics) {
	for i := 0; i < len(l.blocks); i++ {
		block := l.blocks[i]
		if block.Status == BlockFree {
			stats.AddFreeRegion(block.Size)
		} else {
			stats.AddAllocation(block.Size, block.AllocatedSize)
		}
	}
}

func (l *BlockLedger) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int, owner ProcessID)) {
	for i := 0; i < len(l.blocks); i++ {
		if l.blocks[i].Status == BlockAllocated {
			logFunc(logger, l.blocks[i].Start, l.blocks[i].Size, l.blocks[i].Owner)
		}
	}
}

// WriteJson populates a json object with the current state of every block in the
// ledger
func (l *BlockLedger) WriteJson(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(l.heapSize)
	json.Name("FreeBytes").Int(l.freeBytes)
	json.Name("Allocations").Int(l.records.Count())

	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	for i := 0; i < len(l.blocks); i++ {
		block := l.blocks[i]

		obj := arrayState.Object()
		obj.Name("Offset").Int(block.Start)
		obj.Name("Size").Int(block.Size)
		obj.Name("Status").String(block.Status.String())
		if block.Status == BlockAllocated {
			obj.Name("Owner").Int(int(block.Owner))
			obj.Name("RequestedBytes").Int(block.AllocatedSize)
		}
		obj.End()
	}
}
