package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/allocsim/memsim/engine"
)

func buildBlockMap(eng *engine.SimulationEngine) []byte {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	eng.Ledger().WriteJson(obj)
	obj.End()

	return writer.Bytes()
}

func writeMetricsJson(json jwriter.ObjectState, m engine.MetricsSnapshot) {
	json.Name("Cycle").Int(m.Cycle)
	json.Name("TotalBytes").Int(m.TotalBytes)
	json.Name("AllocatedBytes").Int(m.AllocatedBytes)
	json.Name("FreeBytes").Int(m.FreeBytes)
	json.Name("RequestedBytes").Int(m.RequestedBytes)
	json.Name("Utilization").Float64(m.Utilization)
	json.Name("PeakUtilization").Float64(m.PeakUtilization)
	json.Name("InternalFragBytes").Int(m.InternalFragBytes)
	json.Name("InternalFragPercent").Float64(m.InternalFragPercent)
	json.Name("ExternalFragBytes").Int(m.ExternalFragBytes)
	json.Name("FreeRegions").Int(m.FreeRegions)
	json.Name("LargestFree").Int(m.LargestFree)
	json.Name("SmallestFree").Int(m.SmallestFree)
	json.Name("AvgFreeSize").Float64(m.AvgFreeSize)
	json.Name("LostObjects").Int(m.LostObjectCount)
	json.Name("LostBytes").Int(m.LostBytes)
	json.Name("Reclaimed").Int(m.ReclaimedCount)
	json.Name("DeniedAllocations").Int(m.DeniedAllocationCount)
	json.Name("AnomalousFrees").Int(m.AnomalousFreeCount)
	json.Name("AllocCalls").Int(m.Ops.AllocCalls)
	json.Name("AllocExamined").Int(m.Ops.AllocExamined)
	json.Name("AvgExaminedPerAlloc").Float64(m.Ops.AvgExaminedPerAlloc())
	json.Name("FreeCalls").Int(m.Ops.FreeCalls)
}

// WriteJson renders the full comparison as a single JSON document, one object per
// strategy with its prefill snapshot, periodic samples, final metrics, and final
// block map
func (r ComparisonResult) WriteJson(w io.Writer) error {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	for _, run := range r.Runs {
		runObj := obj.Name(run.Strategy.String()).Object()

		prefillObj := runObj.Name("Prefill").Object()
		writeMetricsJson(prefillObj, run.Prefill)
		prefillObj.End()

		samplesArr := runObj.Name("Samples").Array()
		for _, sample := range run.Samples {
			sampleObj := samplesArr.Object()
			writeMetricsJson(sampleObj, sample.Metrics)
			sampleObj.End()
		}
		samplesArr.End()

		finalObj := runObj.Name("Final").Object()
		writeMetricsJson(finalObj, run.Final)
		finalObj.End()

		if len(run.BlockMap) > 0 {
			runObj.Name("BlockMap").Raw(json.RawMessage(run.BlockMap))
		} else {
			runObj.Name("BlockMap").Null()
		}

		runObj.End()
	}
	obj.End()

	err := writer.Error()
	if err != nil {
		return err
	}

	_, err = w.Write(writer.Bytes())
	return err
}

// WriteTable renders the final comparison table across the four strategies, one
// metric per row
func (r ComparisonResult) WriteTable(w io.Writer) {
	fmt.Fprintf(w, "%-32s", "Metric")
	for _, run := range r.Runs {
		fmt.Fprintf(w, " %12s", run.Strategy.Abbrev())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 32+13*len(r.Runs)))

	row := func(name string, value func(m engine.MetricsSnapshot) string) {
		fmt.Fprintf(w, "%-32s", name)
		for _, run := range r.Runs {
			fmt.Fprintf(w, " %12s", value(run.Final))
		}
		fmt.Fprintln(w)
	}

	intRow := func(name string, value func(m engine.MetricsSnapshot) int) {
		row(name, func(m engine.MetricsSnapshot) string {
			return fmt.Sprintf("%d", value(m))
		})
	}

	pctRow := func(name string, value func(m engine.MetricsSnapshot) float64) {
		row(name, func(m engine.MetricsSnapshot) string {
			return fmt.Sprintf("%.2f", value(m))
		})
	}

	intRow("Total memory (bytes)", func(m engine.MetricsSnapshot) int { return m.TotalBytes })
	intRow("Used memory (bytes)", func(m engine.MetricsSnapshot) int { return m.AllocatedBytes })
	intRow("Requested bytes", func(m engine.MetricsSnapshot) int { return m.RequestedBytes })
	pctRow("% memory in use", func(m engine.MetricsSnapshot) float64 { return m.Utilization })
	pctRow("Peak % memory in use", func(m engine.MetricsSnapshot) float64 { return m.PeakUtilization })
	pctRow("% internal fragmentation", func(m engine.MetricsSnapshot) float64 { return m.InternalFragPercent })
	intRow("External frag (free bytes)", func(m engine.MetricsSnapshot) int { return m.ExternalFragBytes })
	intRow("Free regions", func(m engine.MetricsSnapshot) int { return m.FreeRegions })
	intRow("Largest free block", func(m engine.MetricsSnapshot) int { return m.LargestFree })
	intRow("Smallest free block", func(m engine.MetricsSnapshot) int { return m.SmallestFree })
	pctRow("Avg free block size", func(m engine.MetricsSnapshot) float64 { return m.AvgFreeSize })
	fmt.Fprintln(w)

	intRow("Lost objects", func(m engine.MetricsSnapshot) int { return m.LostObjectCount })
	intRow("Lost bytes", func(m engine.MetricsSnapshot) int { return m.LostBytes })
	intRow("Denied allocations", func(m engine.MetricsSnapshot) int { return m.DeniedAllocationCount })
	intRow("Anomalous frees", func(m engine.MetricsSnapshot) int { return m.AnomalousFreeCount })
	fmt.Fprintln(w)

	intRow("Allocation calls", func(m engine.MetricsSnapshot) int { return m.Ops.AllocCalls })
	intRow("Blocks examined", func(m engine.MetricsSnapshot) int { return m.Ops.AllocExamined })
	pctRow("Avg examined per alloc", func(m engine.MetricsSnapshot) float64 { return m.Ops.AvgExaminedPerAlloc() })
	intRow("Free calls", func(m engine.MetricsSnapshot) int { return m.Ops.FreeCalls })
	fmt.Fprintln(w, strings.Repeat("-", 32+13*len(r.Runs)))
}
