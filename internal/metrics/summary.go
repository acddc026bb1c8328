package metrics

import (
	"fmt"
	"io"
	"os"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// CounterTotal returns a counter family's value summed across all
// label combinations.
func (c *Collector) CounterTotal(name string) (float64, error) {
	mf, err := c.family(name)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total, nil
}

// GaugeValue returns an unlabeled gauge's current value.
func (c *Collector) GaugeValue(name string) (float64, error) {
	mf, err := c.family(name)
	if err != nil {
		return 0, err
	}

	metrics := mf.GetMetric()
	if len(metrics) == 0 {
		return 0, fmt.Errorf("metric %s has no samples", name)
	}
	return metrics[0].GetGauge().GetValue(), nil
}

// family gathers the registry and returns the named metric family.
func (c *Collector) family(name string) (*dto.MetricFamily, error) {
	families, err := c.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}

	for _, mf := range families {
		if mf.GetName() == name {
			return mf, nil
		}
	}
	return nil, fmt.Errorf("metric %s not found", name)
}

// WriteSnapshot writes every gathered metric family to w in
// Prometheus text format.
func (c *Collector) WriteSnapshot(w io.Writer) error {
	families, err := c.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// SnapshotToFile writes the final metrics state to path, so the
// session's numbers survive after the process and its /metrics
// endpoint are gone.
func (c *Collector) SnapshotToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}

	if err := c.WriteSnapshot(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
