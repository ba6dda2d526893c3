// Package registry manages investigator instances: creation against the
// type catalog, guarded deletion, activation, and list/summary projections.
package registry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/catalog"
	"github.com/sells-group/investigator/internal/model"
	"github.com/sells-group/investigator/internal/notify"
	"github.com/sells-group/investigator/internal/rules"
	"github.com/sells-group/investigator/internal/store"
)

// Status values carried by StatusChanged events for registry mutations.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusDeleted  = "deleted"
)

// Registry is the instance registry.
type Registry struct {
	store   store.Store
	catalog *catalog.Catalog
	events  notify.Publisher
	log     *zap.Logger
}

// New creates a Registry. A nil publisher discards events.
func New(st store.Store, cat *catalog.Catalog, events notify.Publisher) *Registry {
	if events == nil {
		events = notify.Nop{}
	}
	return &Registry{
		store:   st,
		catalog: cat,
		events:  events,
		log:     zap.L().With(zap.String("component", "registry")),
	}
}

// Catalog returns the type catalog the registry validates against.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Create registers a new instance of typeCode. The configuration must parse
// as thresholds; it is stored in canonical form. An empty name defaults to
// the type's display name.
func (r *Registry) Create(ctx context.Context, typeCode, customName string, cfg json.RawMessage) (*model.Instance, error) {
	typ, err := r.catalog.Lookup(typeCode)
	if err != nil {
		return nil, err
	}

	th, err := rules.ParseThresholds(cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: create %s", typeCode)
	}
	var stored json.RawMessage
	if th != (rules.Thresholds{}) {
		if stored, err = th.Marshal(); err != nil {
			return nil, eris.Wrap(err, "registry: create")
		}
	}

	name := strings.TrimSpace(customName)
	if name == "" {
		name = typ.DisplayName
	}

	inst, err := r.store.CreateInstance(ctx, model.Instance{
		TypeID:              typ.ID,
		CustomName:          name,
		CustomConfiguration: stored,
		IsActive:            true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "registry: create")
	}
	inst.TypeCode = typ.Code

	r.log.Info("instance created",
		zap.String("instance_id", inst.ID),
		zap.String("type", typ.Code),
		zap.String("name", name),
	)
	r.events.Publish(ctx, notify.Event{
		Kind:       notify.KindStatusChanged,
		InstanceID: inst.ID,
		Status:     model.InstanceStatusIdle,
		At:         inst.CreatedAt,
	})
	return inst, nil
}

// Delete hard-deletes an instance with its executions and results. It fails
// with model.ErrInUse while a run is in flight.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteInstance(ctx, id); err != nil {
		return eris.Wrap(err, "registry: delete")
	}
	r.log.Info("instance deleted", zap.String("instance_id", id))
	r.events.Publish(ctx, notify.Event{
		Kind:       notify.KindStatusChanged,
		InstanceID: id,
		Status:     StatusDeleted,
	})
	return nil
}

// SetActive soft-deletes (false) or reactivates (true) an instance. History
// is kept either way.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.store.SetInstanceActive(ctx, id, active); err != nil {
		return eris.Wrap(err, "registry: set active")
	}
	status := StatusInactive
	if active {
		status = StatusActive
	}
	r.events.Publish(ctx, notify.Event{
		Kind:       notify.KindStatusChanged,
		InstanceID: id,
		Status:     status,
	})
	return nil
}

// Get returns one instance.
func (r *Registry) Get(ctx context.Context, id string) (*model.Instance, error) {
	return r.store.GetInstance(ctx, id)
}

// List returns instances with their latest execution status and count.
func (r *Registry) List(ctx context.Context, filter store.InstanceFilter) ([]model.InstanceView, error) {
	views, err := r.store.ListInstances(ctx, filter)
	return views, eris.Wrap(err, "registry: list")
}

// GetActive lists active instances.
func (r *Registry) GetActive(ctx context.Context) ([]model.InstanceView, error) {
	return r.List(ctx, store.InstanceFilter{ActiveOnly: true})
}

// GetByType lists instances of one type, active or not.
func (r *Registry) GetByType(ctx context.Context, typeCode string) ([]model.InstanceView, error) {
	return r.List(ctx, store.InstanceFilter{TypeCode: typeCode})
}

// GetSummary returns aggregate counts over the registry and ledger.
func (r *Registry) GetSummary(ctx context.Context) (*model.Summary, error) {
	sum, err := r.store.Summary(ctx)
	return sum, eris.Wrap(err, "registry: summary")
}

// Results returns an instance's most recent findings across all executions.
func (r *Registry) Results(ctx context.Context, id string, limit int) ([]model.Result, error) {
	if _, err := r.store.GetInstance(ctx, id); err != nil {
		return nil, eris.Wrap(err, "registry: results")
	}
	results, err := r.store.ListResults(ctx, id, limit)
	return results, eris.Wrap(err, "registry: results")
}

// Executions returns an instance's run history, newest first.
func (r *Registry) Executions(ctx context.Context, id string, limit int) ([]model.Execution, error) {
	if _, err := r.store.GetInstance(ctx, id); err != nil {
		return nil, eris.Wrap(err, "registry: executions")
	}
	execs, err := r.store.ListExecutions(ctx, store.ExecutionFilter{InstanceID: id, Limit: limit})
	return execs, eris.Wrap(err, "registry: executions")
}
