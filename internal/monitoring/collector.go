package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/sells-group/investigator/internal/model"
)

var (
	instancesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "investigator",
		Subsystem: "registry",
		Name:      "instances",
		Help:      "Investigator instances by state",
	}, []string{"state"})

	executionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "investigator",
		Subsystem: "ledger",
		Name:      "executions",
		Help:      "Executions recorded in the ledger",
	})

	resultsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "investigator",
		Subsystem: "ledger",
		Name:      "results",
		Help:      "Result rows recorded in the ledger",
	})
)

// Snapshot holds a point-in-time view of the registry and ledger.
type Snapshot struct {
	model.Summary
	CollectedAt time.Time `json:"collected_at"`
}

// SummaryReader is the slice of the store the collector needs.
type SummaryReader interface {
	Summary(ctx context.Context) (*model.Summary, error)
}

// Collector reads aggregate counts and publishes them as gauges.
type Collector struct {
	source SummaryReader
	now    func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(source SummaryReader) *Collector {
	return &Collector{source: source, now: time.Now}
}

// Collect reads a summary, refreshes the gauges and returns the snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	sum, err := c.source.Summary(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: summary")
	}

	instancesGauge.WithLabelValues("total").Set(float64(sum.TotalInstances))
	instancesGauge.WithLabelValues("active").Set(float64(sum.ActiveInstances))
	instancesGauge.WithLabelValues("running").Set(float64(sum.RunningInstances))
	executionsGauge.Set(float64(sum.TotalExecutions))
	resultsGauge.Set(float64(sum.TotalResults))

	return &Snapshot{Summary: *sum, CollectedAt: c.now().UTC()}, nil
}
