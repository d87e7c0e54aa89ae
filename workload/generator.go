// Package workload generates the synthetic process streams the simulation engine
// consumes. Jobs arrive stochastically in three size classes and allocate short-
// lived heap objects every cycle they run; a configurable fraction of jobs
// terminate abruptly without releasing anything, producing lost objects. The
// generator is fully deterministic for a given seed, so the four placement
// strategies can replay byte-identical event streams.
package workload

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/allocsim/memsim/engine"
	"github.com/allocsim/memsim/ledger"
)

// Class is the size class of a simulated job
type Class uint32

const (
	ClassSmall Class = iota
	ClassMedium
	ClassLarge
)

var classMapping = map[Class]string{
	ClassSmall:  "small",
	ClassMedium: "medium",
	ClassLarge:  "large",
}

func (c Class) String() string {
	return classMapping[c]
}

// Job run lengths in cycles, each varied by +/-1 at generation time. Heap objects
// are 35 +/- 15 bytes, and each running job allocates a fixed count of them per
// cycle depending on its class.
const (
	smallRunCycles  = 5
	mediumRunCycles = 10
	largeRunCycles  = 25

	smallObjectsPerCycle  = 50
	mediumObjectsPerCycle = 100
	largeObjectsPerCycle  = 250

	objectSizeBase   = 35
	objectSizeSpread = 15

	arrivalBaseGap    = 3
	arrivalGapSpread  = 4
	leakyJobFrequency = 100
)

// Config describes one generated workload
type Config struct {
	// SmallPercent, MediumPercent, and LargePercent set the job class mix and
	// must sum to 100
	SmallPercent  int
	MediumPercent int
	LargePercent  int

	// Cycles is the length of the simulated timeline
	Cycles int

	// LostMode makes every 100th job of each class terminate without
	// releasing its heap objects
	LostMode bool

	// Seed drives all random draws. The same seed always produces the same
	// event stream.
	Seed int64
}

func (c *Config) Validate() error {
	if c.SmallPercent+c.MediumPercent+c.LargePercent != 100 {
		return errors.Errorf("job class percentages must sum to 100, got %d/%d/%d", c.SmallPercent, c.MediumPercent, c.LargePercent)
	}

	if c.SmallPercent < 0 || c.MediumPercent < 0 || c.LargePercent < 0 {
		return errors.New("job class percentages cannot be negative")
	}

	if c.Cycles < 1 {
		return errors.Errorf("invalid cycle count: %d", c.Cycles)
	}

	return nil
}

// Generate produces the full event stream for one run, ordered by cycle with each
// cycle's releases before its arrivals. Replaying the stream against independent
// engines is what makes results comparable across strategies.
func Generate(config Config) ([]engine.Event, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	g := &generator{
		config:      config,
		rng:         rand.New(rand.NewSource(config.Seed)),
		releases:    make([][]ledger.ProcessID, config.Cycles),
		classCounts: make(map[Class]int),
		nextProcess: 1,
	}

	return g.run(), nil
}

type runningJob struct {
	class     Class
	leaky     bool
	endCycle  int
	perCycle  int
	arrivedAt int
}

type generator struct {
	config Config
	rng    *rand.Rand

	releases    [][]ledger.ProcessID
	classCounts map[Class]int
	nextProcess ledger.ProcessID

	jobs []*runningJob
}

func (g *generator) run() []engine.Event {
	var events []engine.Event

	baseArrival := 1
	nextArrival := baseArrival + g.rng.Intn(arrivalGapSpread+1)

	for cycle := 0; cycle < g.config.Cycles; cycle++ {
		for _, process := range g.releases[cycle] {
			events = append(events, engine.Event{
				Type:   engine.EventRelease,
				Cycle:  cycle,
				Target: process,
			})
		}

		if cycle >= nextArrival {
			baseArrival += arrivalBaseGap
			nextArrival = baseArrival + g.rng.Intn(arrivalGapSpread+1)

			g.jobs = append(g.jobs, g.newJob(cycle))
		}

		events = append(events, g.runJobs(cycle)...)
	}

	return events
}

func (g *generator) newJob(cycle int) *runningJob {
	var class Class
	var runCycles, perCycle int

	roll := 1 + g.rng.Intn(100)
	switch {
	case roll <= g.config.SmallPercent:
		class = ClassSmall
		runCycles = smallRunCycles + g.rng.Intn(3) - 1
		perCycle = smallObjectsPerCycle
	case roll <= g.config.SmallPercent+g.config.MediumPercent:
		class = ClassMedium
		runCycles = mediumRunCycles + g.rng.Intn(3) - 1
		perCycle = mediumObjectsPerCycle
	default:
		class = ClassLarge
		runCycles = largeRunCycles + g.rng.Intn(3) - 1
		perCycle = largeObjectsPerCycle
	}

	if runCycles < 1 {
		runCycles = 1
	}

	g.classCounts[class]++

	leaky := false
	if g.config.LostMode && g.classCounts[class]%leakyJobFrequency == 0 {
		leaky = true
	}

	return &runningJob{
		class:     class,
		leaky:     leaky,
		endCycle:  cycle + runCycles,
		perCycle:  perCycle,
		arrivedAt: cycle,
	}
}

// runJobs emits this cycle's heap allocations for every running job and drops jobs
// whose run has ended
func (g *generator) runJobs(cycle int) []engine.Event {
	var events []engine.Event

	live := g.jobs[:0]
	for _, job := range g.jobs {
		if cycle >= job.endCycle {
			continue
		}
		live = append(live, job)

		for i := 0; i < job.perCycle; i++ {
			events = append(events, g.newObject(cycle, job))
		}
	}
	g.jobs = live

	return events
}

func (g *generator) newObject(cycle int, job *runningJob) engine.Event {
	size := objectSizeBase + g.rng.Intn(2*objectSizeSpread+1) - objectSizeSpread
	if size < 1 {
		size = 1
	}

	// Object lifetimes never outlast the job that allocated them
	remaining := job.endCycle - cycle
	lifetime := 1
	if remaining > 1 {
		lifetime = 1 + g.rng.Intn(remaining)
	}

	process := g.nextProcess
	g.nextProcess++

	deathCycle := cycle + lifetime
	if !job.leaky && deathCycle < g.config.Cycles {
		g.releases[deathCycle] = append(g.releases[deathCycle], process)
	}

	return engine.Event{
		Type:  engine.EventArrival,
		Cycle: cycle,
		Process: engine.Process{
			ID:             process,
			RequestedSize:  size,
			ArrivalCycle:   cycle,
			LifetimeCycles: lifetime,
		},
	}
}
