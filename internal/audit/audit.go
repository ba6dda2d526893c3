// Package audit keeps each execution's declared result count consistent with
// the ledger. Result rows are never modified; only the denormalized count is.
package audit

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/investigator/internal/model"
	"github.com/sells-group/investigator/internal/store"
)

var countsCorrected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "investigator",
	Subsystem: "audit",
	Name:      "counts_corrected_total",
	Help:      "Executions whose declared result count was repaired",
})

const defaultPageSize = 500

// Auditor verifies and repairs execution result counts.
type Auditor struct {
	store       store.Store
	concurrency int
	pageSize    int
	log         *zap.Logger
}

// New creates an Auditor running at most concurrency corrections at once.
func New(st store.Store, concurrency int) *Auditor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Auditor{
		store:       st,
		concurrency: concurrency,
		pageSize:    defaultPageSize,
		log:         zap.L().With(zap.String("component", "audit")),
	}
}

// VerifyCount compares the declared and actual counts. It never writes.
func (a *Auditor) VerifyCount(ctx context.Context, executionID int64) (*model.CountCheck, error) {
	exec, err := a.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: verify")
	}
	actual, err := a.store.CountResults(ctx, executionID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: verify")
	}
	return &model.CountCheck{
		ExecutionID:   executionID,
		DeclaredCount: exec.ResultCount,
		ActualCount:   actual,
		IsAccurate:    exec.ResultCount == actual,
	}, nil
}

// CorrectCount sets the declared count of a terminal execution to its actual
// row count and reports whether anything changed. Running executions are
// rejected with model.ErrExecutionRunning since their count is still moving.
func (a *Auditor) CorrectCount(ctx context.Context, executionID int64) (bool, error) {
	exec, err := a.store.GetExecution(ctx, executionID)
	if err != nil {
		return false, eris.Wrap(err, "audit: correct")
	}
	if exec.Status == model.ExecutionStatusRunning {
		return false, eris.Wrapf(model.ErrExecutionRunning, "audit: correct %d", executionID)
	}

	changed, err := a.store.RecountExecution(ctx, executionID)
	if err != nil {
		return false, eris.Wrap(err, "audit: correct")
	}
	if changed {
		countsCorrected.Inc()
		a.log.Info("result count corrected",
			zap.Int64("execution_id", executionID),
			zap.Int("declared", exec.ResultCount),
		)
	}
	return changed, nil
}

// CorrectAllCounts repairs every terminal execution and returns how many
// changed. Each execution is corrected by its own statement; pages of ids
// are fanned out with bounded concurrency.
func (a *Auditor) CorrectAllCounts(ctx context.Context) (int, error) {
	var corrected atomic.Int64
	var after int64

	for {
		page, err := a.store.ListExecutions(ctx, store.ExecutionFilter{
			TerminalOnly: true,
			AfterID:      after,
			Ascending:    true,
			Limit:        a.pageSize,
		})
		if err != nil {
			return int(corrected.Load()), eris.Wrap(err, "audit: list executions")
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.concurrency)
		for _, e := range page {
			id := e.ID
			g.Go(func() error {
				changed, err := a.store.RecountExecution(gctx, id)
				if err != nil {
					return eris.Wrapf(err, "audit: recount %d", id)
				}
				if changed {
					corrected.Add(1)
					countsCorrected.Inc()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return int(corrected.Load()), err
		}

		after = page[len(page)-1].ID
		if len(page) < a.pageSize {
			break
		}
	}

	n := int(corrected.Load())
	a.log.Info("result counts audited", zap.Int("corrected", n))
	return n, nil
}
