package engine

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"

	"github.com/allocsim/memsim"
	"github.com/allocsim/memsim/ledger"
	"github.com/allocsim/memsim/strategy"
)

// DefaultUnitSize is the allocation granularity used when a Config does not
// specify one
const DefaultUnitSize = 8

// Process describes one synthetic process as submitted by the workload generator.
// The engine never inspects how the values were drawn; it only places the request
// and retires the process when its lifetime runs out.
type Process struct {
	ID             ledger.ProcessID
	RequestedSize  int
	ArrivalCycle   int
	LifetimeCycles int
}

// ExpiryCycle returns the first cycle at which the process no longer runs
func (p Process) ExpiryCycle() int {
	return p.ArrivalCycle + p.LifetimeCycles
}

type EventType uint32

const (
	// EventArrival carries a new process requesting memory
	EventArrival EventType = iota
	// EventRelease is an explicit free issued by a well-behaved process at the
	// end of its lifetime
	EventRelease
)

var eventTypeMapping = map[EventType]string{
	EventArrival: "Arrival",
	EventRelease: "Release",
}

func (t EventType) String() string {
	return eventTypeMapping[t]
}

// Event is a single entry in the simulated timeline. Arrivals populate Process;
// releases populate Target.
type Event struct {
	Type    EventType
	Cycle   int
	Process Process
	Target  ledger.ProcessID
}

// CycleResult reports the outcome of applying one event
type CycleResult struct {
	Cycle int
	// Allocated is true when an arrival was successfully placed
	Allocated bool
	// Denied is true when no free block could satisfy an arrival. The request
	// is dropped; nothing changes in the ledger.
	Denied bool
	// Block is the placed block when Allocated is true
	Block ledger.MemoryBlock
	// Fragmentation is the ledger's fragmentation state after the event
	Fragmentation FragmentationSnapshot
}

// OpCounters accumulates the efficiency figures of one run: how much scanning work
// each strategy performed per allocation attempt
type OpCounters struct {
	AllocCalls    int
	AllocExamined int
	AllocFailures int
	FreeCalls     int
	FreeAnomalies int
}

// AvgExaminedPerAlloc returns the mean number of free blocks examined per
// allocation attempt
func (c OpCounters) AvgExaminedPerAlloc() float64 {
	if c.AllocCalls == 0 {
		return 0
	}
	return float64(c.AllocExamined) / float64(c.AllocCalls)
}

// MetricsSnapshot is the aggregated view of one run, consumed by the report layer
type MetricsSnapshot struct {
	Cycle          int
	TotalBytes     int
	AllocatedBytes int
	FreeBytes      int
	RequestedBytes int

	// Utilization is the percentage of the heap inside allocated blocks. Lost
	// objects keep counting here until they are reclaimed.
	Utilization     float64
	PeakUtilization float64

	InternalFragBytes   int
	InternalFragPercent float64
	ExternalFragBytes   int
	FreeRegions         int
	LargestFree         int
	SmallestFree        int
	AvgFreeSize         float64

	LostObjectCount int
	LostBytes       int
	ReclaimedCount  int

	DeniedAllocationCount int
	// AnomalousFreeCount counts frees for processes with no live allocation and
	// no matching denied request: double frees, or frees that never allocated
	AnomalousFreeCount int

	Ops OpCounters
}

// Config describes one simulation run
type Config struct {
	// TotalSize is the full simulated address range in bytes
	TotalSize int
	// CodeSize and StackSize are the fixed segments carved off the front of the
	// address range; the remainder becomes the dynamically allocated heap
	CodeSize  int
	StackSize int
	// UnitSize is the allocation granularity in bytes, a power of two.
	// Defaults to DefaultUnitSize.
	UnitSize int
	// Strategy selects the placement algorithm for this run
	Strategy strategy.Kind
	// Logger receives denied-allocation and anomaly events. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

func (c *Config) Validate() error {
	if c.TotalSize < 1 {
		return errors.Errorf("invalid total memory size: %d", c.TotalSize)
	}

	segments, err := ledger.NewSegmentModel(c.CodeSize, c.StackSize, c.TotalSize)
	if err != nil {
		return err
	}

	unitSize := c.UnitSize
	if unitSize == 0 {
		unitSize = DefaultUnitSize
	}

	// A dry ledger construction runs every remaining check, so Initialize
	// cannot fail on a config that validated
	_, err = ledger.NewBlockLedger(segments, unitSize)
	return err
}

// SimulationEngine drives one allocation/deallocation timeline over a single
// ledger with a single placement strategy. Each engine is exclusively owned by one
// run: the four-strategy comparison creates four engines over identical replayed
// event streams.
type SimulationEngine struct {
	ledger   *ledger.BlockLedger
	strategy strategy.Strategy
	tracker  *FragmentationTracker
	detector *LeakDetector
	logger   *slog.Logger

	cycle         int
	active        map[ledger.ProcessID]Process
	denied        map[ledger.ProcessID]struct{}
	peakAllocated int
	ops           OpCounters
}

// Initialize builds a SimulationEngine from a Config: segment model, ledger,
// tracker, detector, and a fresh strategy instance with no carried-over state
func Initialize(config Config) (*SimulationEngine, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	segments, err := ledger.NewSegmentModel(config.CodeSize, config.StackSize, config.TotalSize)
	if err != nil {
		return nil, err
	}

	unitSize := config.UnitSize
	if unitSize == 0 {
		unitSize = DefaultUnitSize
	}

	blockLedger, err := ledger.NewBlockLedger(segments, unitSize)
	if err != nil {
		return nil, err
	}

	return NewSimulationEngine(blockLedger, config.Strategy.New(), config.Logger), nil
}

// NewSimulationEngine wires an engine around an existing ledger and strategy
// instance. The engine takes exclusive ownership of both.
func NewSimulationEngine(blockLedger *ledger.BlockLedger, strat strategy.Strategy, logger *slog.Logger) *SimulationEngine {
	if logger == nil {
		logger = slog.Default()
	}

	return &SimulationEngine{
		ledger:   blockLedger,
		strategy: strat,
		tracker:  NewFragmentationTracker(blockLedger),
		detector: NewLeakDetector(blockLedger),
		logger:   logger,

		active: make(map[ledger.ProcessID]Process),
		denied: make(map[ledger.ProcessID]struct{}),
	}
}

// Ledger returns the ledger this engine drives
func (e *SimulationEngine) Ledger() *ledger.BlockLedger {
	return e.ledger
}

// Tracker returns the engine's fragmentation tracker
func (e *SimulationEngine) Tracker() *FragmentationTracker {
	return e.tracker
}

// Detector returns the engine's leak detector
func (e *SimulationEngine) Detector() *LeakDetector {
	return e.detector
}

// StrategyKind returns the placement algorithm driving this engine
func (e *SimulationEngine) StrategyKind() strategy.Kind {
	return e.strategy.Kind()
}

// Cycle returns the engine's current position on the simulation timeline
func (e *SimulationEngine) Cycle() int {
	return e.cycle
}

// ActiveProcesses returns the set of processes with lifetime remaining, in the
// form the leak detector's Scan expects
func (e *SimulationEngine) ActiveProcesses() map[ledger.ProcessID]struct{} {
	active := make(map[ledger.ProcessID]struct{}, len(e.active))
	for id := range e.active {
		active[id] = struct{}{}
	}

	return active
}

// ApplyEvent applies one timeline event to the ledger through the engine's
// strategy. Denied allocations and anomalous frees fold into metrics and never
// abort the run; a strategy selecting an unusable block panics, since that is a
// defect rather than a workload condition.
func (e *SimulationEngine) ApplyEvent(event Event) CycleResult {
	var result CycleResult

	switch event.Type {
	case EventArrival:
		result = e.applyArrival(event.Process)
	case EventRelease:
		e.applyRelease(event.Target)
		result.Cycle = e.cycle
	default:
		panic(errors.Errorf("unknown event type %d", event.Type))
	}

	memsim.DebugValidate(e.ledger)
	result.Fragmentation = e.tracker.Snapshot()

	return result
}

func (e *SimulationEngine) applyArrival(process Process) CycleResult {
	rounded := e.ledger.RoundRequest(process.RequestedSize)
	pick, ok := e.strategy.SelectBlock(e.ledger.FreeBlocks(), rounded)

	e.ops.AllocCalls++
	e.ops.AllocExamined += pick.Examined

	if !ok {
		e.ops.AllocFailures++
		e.logger.Debug("allocation denied",
			"err", memsim.ErrNoFit,
			"cycle", e.cycle,
			"process", uint64(process.ID),
			"requested", process.RequestedSize,
			"strategy", e.strategy.Kind().String(),
		)

		e.denied[process.ID] = struct{}{}

		return CycleResult{Cycle: e.cycle, Denied: true}
	}

	block, err := e.ledger.Allocate(process.ID, process.RequestedSize, pick.Index)
	if err != nil {
		// The strategy handed back a block that cannot hold the request.
		// The ledger is still consistent, but the run is meaningless.
		panic(err)
	}

	e.active[process.ID] = process

	if e.ledger.TotalAllocated() > e.peakAllocated {
		e.peakAllocated = e.ledger.TotalAllocated()
	}

	return CycleResult{Cycle: e.cycle, Allocated: true, Block: block}
}

func (e *SimulationEngine) applyRelease(process ledger.ProcessID) {
	e.ops.FreeCalls++

	_, err := e.ledger.Free(process)
	if err != nil {
		if errors.Is(err, memsim.ErrUnknownProcess) {
			// A release paired with a request this run denied is an expected
			// artifact of replaying one event stream against every strategy,
			// not a malformed stream
			if _, wasDenied := e.denied[process]; wasDenied {
				delete(e.denied, process)
				return
			}

			e.ops.FreeAnomalies++
			e.logger.Warn("free issued for a process with no live allocation",
				"cycle", e.cycle,
				"process", uint64(process),
			)
			return
		}

		panic(err)
	}

	delete(e.active, process)
}

// AdvanceCycle moves the clock forward one cycle. Any process whose lifetime ended
// without an explicit release is retired as a lost object: its block stays
// allocated, the leak detector records it, and its id is returned. Well-behaved
// processes left the active set when their release event was applied.
func (e *SimulationEngine) AdvanceCycle() []ledger.ProcessID {
	var newlyLost []ledger.ProcessID

	for id, process := range e.active {
		if process.ExpiryCycle() <= e.cycle {
			e.detector.Observe(id)
			delete(e.active, id)
			newlyLost = append(newlyLost, id)
		}
	}
	slices.Sort(newlyLost)

	if len(newlyLost) > 0 {
		e.logger.Debug("processes expired without freeing their blocks",
			"cycle", e.cycle,
			"count", len(newlyLost),
		)
	}

	e.cycle++

	return newlyLost
}

// SnapshotMetrics aggregates the run's current state for the report layer
func (e *SimulationEngine) SnapshotMetrics() MetricsSnapshot {
	var stats memsim.DetailedStatistics
	stats.Clear()
	e.ledger.AddDetailedStatistics(&stats)

	total := e.ledger.Size()
	used := e.ledger.TotalAllocated()

	snapshot := MetricsSnapshot{
		Cycle:          e.cycle,
		TotalBytes:     total,
		AllocatedBytes: used,
		FreeBytes:      e.ledger.TotalFree(),
		RequestedBytes: stats.RequestedBytes,

		InternalFragBytes: stats.InternalFragmentation(),
		ExternalFragBytes: e.ledger.TotalFree(),
		FreeRegions:       stats.FreeRegionCount,
		LargestFree:       stats.FreeRegionSizeMax,

		LostObjectCount: e.detector.LostCount(),
		LostBytes:       e.detector.LostBytes(),
		ReclaimedCount:  e.detector.ReclaimedCount(),

		DeniedAllocationCount: e.ops.AllocFailures,
		AnomalousFreeCount:    e.ops.FreeAnomalies,

		Ops: e.ops,
	}

	if stats.FreeRegionCount > 0 {
		snapshot.SmallestFree = stats.FreeRegionSizeMin
		snapshot.AvgFreeSize = float64(e.ledger.TotalFree()) / float64(stats.FreeRegionCount)
	}

	if total > 0 {
		snapshot.Utilization = float64(used) / float64(total) * 100
		snapshot.PeakUtilization = float64(e.peakAllocated) / float64(total) * 100
	}

	if used > 0 {
		snapshot.InternalFragPercent = float64(snapshot.InternalFragBytes) / float64(used) * 100
	}

	return snapshot
}
