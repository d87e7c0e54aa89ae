package ledger

// ProcessID identifies a single simulated process for the lifetime of a run. The
// ledger never interprets the value; it only uses it to key allocation records.
type ProcessID uint64

type BlockStatus uint32

const (
	BlockFree BlockStatus = iota
	BlockAllocated
)

var blockStatusMapping = map[BlockStatus]string{
	BlockFree:      "Free",
	BlockAllocated: "Allocated",
}

func (s BlockStatus) String() string {
	return blockStatusMapping[s]
}

// MemoryBlock is a single contiguous region of the simulated heap. The ledger owns
// every block by value; consumers only ever see copies.
type MemoryBlock struct {
	// Start is the address of the first byte of the block
	Start int
	// Size is the full extent of the block in bytes, always a whole number of
	// allocation units
	Size int
	// Status indicates whether the block is free or backing a live allocation
	Status BlockStatus
	// Owner is the process holding the block. Only meaningful when Status is
	// BlockAllocated.
	Owner ProcessID
	// AllocatedSize is the number of bytes the owner actually asked for,
	// before rounding up to the allocation unit. Always <= Size.
	AllocatedSize int
}

// End returns the address one past the last byte of the block
func (b MemoryBlock) End() int {
	return b.Start + b.Size
}

// InternalFragmentation returns the number of bytes inside the block that were
// allocated but never requested. Free blocks have no internal fragmentation.
func (b MemoryBlock) InternalFragmentation() int {
	if b.Status != BlockAllocated {
		return 0
	}
	return b.Size - b.AllocatedSize
}

// IndexedBlock pairs a block with its current position in the ledger. Positions are
// only stable until the next mutation, so strategies must treat a slice of these as
// a snapshot.
type IndexedBlock struct {
	Index int
	MemoryBlock
}
