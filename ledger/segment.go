package ledger

import (
	"github.com/pkg/errors"
)

// SegmentModel is the static partition of the simulated address range into Code,
// Stack, and Heap segments. Code and Stack are fixed at configuration time and are
// never touched during a run; only the Heap segment is handed to a BlockLedger for
// dynamic allocation.
type SegmentModel struct {
	codeSize  int
	stackSize int
	totalSize int
}

// NewSegmentModel partitions totalSize bytes into Code at [0, codeSize), Stack at
// [codeSize, codeSize+stackSize), and Heap covering the remainder. The heap segment
// must be non-empty.
func NewSegmentModel(codeSize, stackSize, totalSize int) (*SegmentModel, error) {
	if codeSize < 0 || stackSize < 0 {
		return nil, errors.Errorf("segment sizes cannot be negative: code %d, stack %d", codeSize, stackSize)
	}

	if codeSize+stackSize >= totalSize {
		return nil, errors.Errorf("code (%d) and stack (%d) segments leave no heap in %d total bytes", codeSize, stackSize, totalSize)
	}

	return &SegmentModel{
		codeSize:  codeSize,
		stackSize: stackSize,
		totalSize: totalSize,
	}, nil
}

// TotalSize returns the full extent of the simulated address range in bytes
func (s *SegmentModel) TotalSize() int {
	return s.totalSize
}

// CodeBounds returns the start address and size of the Code segment
func (s *SegmentModel) CodeBounds() (start, size int) {
	return 0, s.codeSize
}

// StackBounds returns the start address and size of the Stack segment
func (s *SegmentModel) StackBounds() (start, size int) {
	return s.codeSize, s.stackSize
}

// HeapBounds returns the start address and size of the Heap segment, the only
// segment subject to dynamic allocation
func (s *SegmentModel) HeapBounds() (start, size int) {
	start = s.codeSize + s.stackSize
	return start, s.totalSize - start
}
