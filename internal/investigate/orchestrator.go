// Package investigate runs investigator instances: it claims the running
// slot, streams engine findings into the ledger, and records the outcome.
package investigate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/catalog"
	"github.com/sells-group/investigator/internal/model"
	"github.com/sells-group/investigator/internal/notify"
	"github.com/sells-group/investigator/internal/registry"
	"github.com/sells-group/investigator/internal/resilience"
	"github.com/sells-group/investigator/internal/rules"
	"github.com/sells-group/investigator/internal/store"
)

// Orchestrator starts and tracks investigator runs.
type Orchestrator struct {
	store    store.Store
	registry *registry.Registry
	catalog  *catalog.Catalog
	engines  *rules.Registry
	events   notify.Publisher
	retry    resilience.RetryConfig
	now      func() time.Time

	locks keyedMutex
	wg    sync.WaitGroup
	log   *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source used for timestamps and as the
// engines' reference time.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRetry sets the retry policy for ledger writes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

// New creates an Orchestrator. A nil publisher discards events.
func New(st store.Store, reg *registry.Registry, engines *rules.Registry, events notify.Publisher, opts ...Option) *Orchestrator {
	if events == nil {
		events = notify.Nop{}
	}
	o := &Orchestrator{
		store:    st,
		registry: reg,
		catalog:  reg.Catalog(),
		engines:  engines,
		events:   events,
		retry:    resilience.DefaultRetryConfig(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.L().With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry.OnRetry == nil {
		logRetry := resilience.RetryLogger("orchestrator", "append_result")
		o.retry.OnRetry = func(attempt int, err error) {
			appendRetries.Inc()
			logRetry(attempt, err)
		}
	}
	return o
}

// run is everything a background execution needs, resolved before the
// running slot is claimed.
type run struct {
	inst   *model.Instance
	engine rules.Engine
	th     rules.Resolved
	exec   *model.Execution
}

// Start claims the running slot for instanceID and launches the run in the
// background. It returns once the running execution is durable. The run is
// detached from ctx cancellation; use Wait to block until it finishes.
func (o *Orchestrator) Start(ctx context.Context, instanceID string) (*model.Execution, error) {
	instanceID = canonicalID(instanceID)
	unlock := o.locks.Lock(instanceID)
	defer unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, eris.Wrap(err, "investigate: start")
	}
	if !inst.IsActive {
		return nil, eris.Wrapf(model.ErrInactive, "investigate: start %s", instanceID)
	}

	engine, err := o.engines.Lookup(inst.TypeCode)
	if err != nil {
		return nil, eris.Wrapf(err, "investigate: start %s", instanceID)
	}
	var typeDefaults []byte
	if typ, ok := o.catalog.ByID(inst.TypeID); ok {
		typeDefaults = typ.DefaultConfiguration
	}
	th, err := rules.Resolve(typeDefaults, inst.CustomConfiguration)
	if err != nil {
		return nil, eris.Wrapf(err, "investigate: start %s", instanceID)
	}

	exec, err := o.store.OpenExecution(ctx, instanceID, o.now())
	if err != nil {
		return nil, eris.Wrap(err, "investigate: start")
	}

	runsStarted.WithLabelValues(inst.TypeCode).Inc()
	runsInFlight.Inc()
	o.log.Info("investigation started",
		zap.String("instance_id", instanceID),
		zap.Int64("execution_id", exec.ID),
		zap.String("type", inst.TypeCode),
		zap.Stringer("thresholds", th),
	)
	o.events.Publish(ctx, notify.Event{
		Kind:        notify.KindInvestigationStarted,
		InstanceID:  instanceID,
		ExecutionID: exec.ID,
		Status:      string(model.ExecutionStatusRunning),
		At:          exec.StartedAt,
	})
	o.events.Publish(ctx, notify.Event{
		Kind:        notify.KindStatusChanged,
		InstanceID:  instanceID,
		ExecutionID: exec.ID,
		Status:      string(model.ExecutionStatusRunning),
		At:          exec.StartedAt,
	})

	started := *exec
	o.wg.Add(1)
	go o.execute(context.WithoutCancel(ctx), run{inst: inst, engine: engine, th: th, exec: exec})
	return &started, nil
}

// Delete removes an instance under the same per-instance lock Start uses.
func (o *Orchestrator) Delete(ctx context.Context, instanceID string) error {
	instanceID = canonicalID(instanceID)
	unlock := o.locks.Lock(instanceID)
	defer unlock()
	return o.registry.Delete(ctx, instanceID)
}

// Wait blocks until every run started by this orchestrator has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// orphanMessage is recorded on executions left running by a previous process.
const orphanMessage = "interrupted: the process stopped before the run finished"

// ReclaimOrphans fails every execution still marked running, keeping the
// results already written. Call it before the first Start, while no run of
// any process can be in flight.
func (o *Orchestrator) ReclaimOrphans(ctx context.Context) (int, error) {
	n, err := o.store.FailOrphanedExecutions(ctx, o.now(), orphanMessage)
	if err != nil {
		return 0, eris.Wrap(err, "investigate: reclaim orphans")
	}
	if n > 0 {
		o.log.Warn("failed orphaned executions", zap.Int("count", n))
	}
	return n, nil
}

// canonicalID lower-cases UUID ids so every spelling shares one lock.
func canonicalID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return id
}

func (o *Orchestrator) execute(ctx context.Context, r run) {
	defer o.wg.Done()
	defer runsInFlight.Dec()

	log := o.log.With(
		zap.String("instance_id", r.inst.ID),
		zap.Int64("execution_id", r.exec.ID),
	)

	written, runErr := o.stream(ctx, r)
	o.finish(ctx, log, r, written, runErr)
}

// stream evaluates the engine and appends each finding. It returns the number
// of rows durably written, which is also correct when it fails part-way.
func (o *Orchestrator) stream(ctx context.Context, r run) (int, error) {
	ds, err := o.store.LoadDataset(ctx, r.engine.Entity())
	if err != nil {
		return 0, eris.Wrap(err, "load dataset")
	}

	written := 0
	for f, err := range r.engine.Evaluate(ds, r.th, r.exec.StartedAt) {
		if err != nil {
			return written, eris.Wrap(err, "evaluate")
		}

		var payload json.RawMessage
		if f.Payload != nil {
			if payload, err = json.Marshal(f.Payload); err != nil {
				return written, eris.Wrapf(err, "encode payload for %s %s", f.EntityType, f.EntityID)
			}
		}
		row := model.Result{
			ExecutionID: r.exec.ID,
			Seq:         written + 1,
			Timestamp:   o.now(),
			Severity:    f.Severity,
			Message:     f.Message,
			EntityType:  f.EntityType,
			EntityID:    f.EntityID,
			Payload:     payload,
		}
		saved, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (*model.Result, error) {
			return o.store.AppendResult(ctx, row)
		})
		if err != nil {
			return written, eris.Wrap(err, "append result")
		}

		written++
		resultsWritten.WithLabelValues(string(f.Severity)).Inc()
		o.events.Publish(ctx, notify.Event{
			Kind:        notify.KindNewResultAdded,
			InstanceID:  r.inst.ID,
			ExecutionID: r.exec.ID,
			ResultCount: written,
			Result:      saved,
			At:          saved.Timestamp,
		})
	}
	return written, nil
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, r run, written int, runErr error) {
	outcome := model.ExecutionOutcome{
		Status:      model.ExecutionStatusCompleted,
		CompletedAt: o.now(),
		ResultCount: written,
	}
	if runErr != nil {
		outcome.Status = model.ExecutionStatusFailed
		outcome.ErrorMessage = runErr.Error()
	}

	if err := o.record(ctx, r.exec.ID, outcome); err != nil {
		// The row stays running until ReclaimOrphans fails it on the next
		// startup; subscribers still learn the run is over.
		log.Error("record execution outcome", zap.String("status", string(outcome.Status)), zap.Error(err))
		msg := "record outcome: " + err.Error()
		if outcome.ErrorMessage != "" {
			msg = outcome.ErrorMessage + "; " + msg
		}
		outcome.Status = model.ExecutionStatusFailed
		outcome.ErrorMessage = msg
	} else if outcome.Status == model.ExecutionStatusCompleted {
		if err := o.store.TouchInstance(ctx, r.inst.ID, outcome.CompletedAt); err != nil {
			log.Warn("update last executed", zap.Error(err))
		}
		log.Info("investigation completed", zap.Int("results", written))
	} else {
		log.Warn("investigation failed", zap.Int("results", written), zap.Error(runErr))
	}

	runsFinished.WithLabelValues(r.inst.TypeCode, string(outcome.Status)).Inc()
	runDuration.WithLabelValues(r.inst.TypeCode).Observe(outcome.CompletedAt.Sub(r.exec.StartedAt).Seconds())

	o.events.Publish(ctx, notify.Event{
		Kind:        notify.KindInvestigationCompleted,
		InstanceID:  r.inst.ID,
		ExecutionID: r.exec.ID,
		Status:      string(outcome.Status),
		ResultCount: written,
		Error:       outcome.ErrorMessage,
		At:          outcome.CompletedAt,
	})
	o.events.Publish(ctx, notify.Event{
		Kind:        notify.KindStatusChanged,
		InstanceID:  r.inst.ID,
		ExecutionID: r.exec.ID,
		Status:      string(outcome.Status),
		ResultCount: written,
		At:          outcome.CompletedAt,
	})
}

// record writes the terminal outcome. FinishExecution only matches running
// rows, so a retry after a write that committed but reported an error sees
// ErrNotFound; the stored status decides whether the outcome landed.
func (o *Orchestrator) record(ctx context.Context, id int64, outcome model.ExecutionOutcome) error {
	err := resilience.Do(ctx, o.retry, func(ctx context.Context) error {
		return o.store.FinishExecution(ctx, id, outcome)
	})
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if got, gerr := o.store.GetExecution(ctx, id); gerr == nil && got.Status == outcome.Status {
		return nil
	}
	return err
}
