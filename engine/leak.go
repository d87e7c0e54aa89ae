package engine

import (
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slices"

	"github.com/allocsim/memsim/ledger"
)

// LeakDetector tracks lost objects: blocks whose owning process reached the end of
// its lifetime without ever issuing a free. A lost block stays allocated and keeps
// counting toward utilization-the detector only flags it, because silently freeing
// it would hide the very leak it exists to surface. Reclaim is the explicit
// operation for scenarios that model a garbage-collection sweep.
type LeakDetector struct {
	ledger *ledger.BlockLedger

	lost           *swiss.Map[ledger.ProcessID, int]
	lostBytes      int
	reclaimedCount int
	reclaimedBytes int
}

func NewLeakDetector(l *ledger.BlockLedger) *LeakDetector {
	return &LeakDetector{
		ledger: l,
		lost:   swiss.NewMap[ledger.ProcessID, int](42),
	}
}

// Observe records that the provided process expired while still holding its block.
// Observing the same process twice has no additional effect.
func (d *LeakDetector) Observe(process ledger.ProcessID) {
	if d.lost.Has(process) {
		return
	}

	block, ok := d.ledger.Owned(process)
	if !ok {
		return
	}

	d.lost.Put(process, block.AllocatedSize)
	d.lostBytes += block.AllocatedSize
}

// Scan compares the ledger's live allocations against the set of processes that
// still have lifetime remaining. Every owner absent from the active set is a lost
// object; newly discovered ones are recorded as if passed to Observe. The returned
// ids are in ascending order.
func (d *LeakDetector) Scan(active map[ledger.ProcessID]struct{}) []ledger.ProcessID {
	var lost []ledger.ProcessID
	for _, owner := range d.ledger.Owners() {
		if _, ok := active[owner]; ok {
			continue
		}

		d.Observe(owner)
		lost = append(lost, owner)
	}
	slices.Sort(lost)

	return lost
}

// IsLost returns true if the provided process has been flagged as a lost object
// and not yet reclaimed
func (d *LeakDetector) IsLost(process ledger.ProcessID) bool {
	return d.lost.Has(process)
}

// LostCount returns the number of currently-lost objects
func (d *LeakDetector) LostCount() int {
	return d.lost.Count()
}

// LostBytes returns the requested bytes held by currently-lost objects
func (d *LeakDetector) LostBytes() int {
	return d.lostBytes
}

// ReclaimedCount returns the number of lost objects swept back into free space via
// Reclaim
func (d *LeakDetector) ReclaimedCount() int {
	return d.reclaimedCount
}

// Reclaim sweeps a lost object's block back into the free space of the ledger.
// Unlike Free, this models an intentional garbage-collection pass over leaked
// memory, so the detector accounts for it separately. Reclaiming a process that
// was never flagged as lost returns an error from the ledger.
func (d *LeakDetector) Reclaim(process ledger.ProcessID) (ledger.MemoryBlock, error) {
	block, err := d.ledger.Reclaim(process)
	if err != nil {
		return block, err
	}

	if requested, ok := d.lost.Get(process); ok {
		d.lost.Delete(process)
		d.lostBytes -= requested
		d.reclaimedCount++
		d.reclaimedBytes += requested
	}

	return block, nil
}
