// Package rules holds the anomaly rule engines. Engines are pure: given a
// dataset snapshot, resolved thresholds and a reference time they yield the
// same findings in the same order every time. Persistence is the caller's job.
package rules

import (
	"iter"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/investigator/internal/model"
)

// Engine evaluates a dataset of its associated entity kind.
type Engine interface {
	// Entity is the record kind the engine scans; the caller loads only that
	// part of the dataset.
	Entity() model.EntityKind
	// Evaluate returns a lazy, restartable sequence of findings. A non-nil
	// error ends the sequence.
	Evaluate(ds *model.Dataset, th Resolved, now time.Time) iter.Seq2[model.Finding, error]
}

// Registry maps investigator type codes to engines. It is populated at
// startup and read-only afterwards.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Default returns a registry with the built-in invoice and waybill engines.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister("invoice", InvoiceEngine{})
	r.MustRegister("waybill", WaybillEngine{})
	return r
}

// Register binds an engine to a type code.
func (r *Registry) Register(code string, e Engine) error {
	if code == "" || e == nil {
		return eris.New("rules: register requires a code and an engine")
	}
	if _, dup := r.engines[code]; dup {
		return eris.Errorf("rules: engine for %q already registered", code)
	}
	r.engines[code] = e
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(code string, e Engine) {
	if err := r.Register(code, e); err != nil {
		panic(err)
	}
}

// Lookup returns the engine for code, or model.ErrNoEngine.
func (r *Registry) Lookup(code string) (Engine, error) {
	e, ok := r.engines[code]
	if !ok {
		return nil, eris.Wrapf(model.ErrNoEngine, "type %q", code)
	}
	return e, nil
}

// Codes lists the registered type codes in sorted order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.engines))
	for c := range r.engines {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// startOfDay truncates t to midnight in t's location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	a, b = startOfDay(a), startOfDay(b.In(a.Location()))
	return int(math.Round(b.Sub(a).Hours() / 24))
}
