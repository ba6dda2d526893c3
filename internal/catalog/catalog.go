// Package catalog holds the investigator type catalog: the built-in types,
// an optional YAML overlay, and the read-only view seeded into the store.
package catalog

import (
	"context"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/investigator/internal/model"
	"github.com/sells-group/investigator/internal/rules"
)

// Definition describes one investigator type before it is persisted.
type Definition struct {
	Code        string           `yaml:"code"`
	DisplayName string           `yaml:"display_name"`
	Description string           `yaml:"description"`
	Defaults    rules.Thresholds `yaml:"defaults"`
	Active      *bool            `yaml:"active,omitempty"`
}

func (d Definition) active() bool {
	return d.Active == nil || *d.Active
}

func ptr[T any](v T) *T { return &v }

// Builtin returns the types shipped with the binary.
func Builtin() []Definition {
	return []Definition{
		{
			Code:        string(model.EntityInvoice),
			DisplayName: "Invoice checks",
			Description: "Flags negative amounts, excessive tax ratios and future-dated invoices.",
			Defaults: rules.Thresholds{
				MaxTaxRatio:   ptr(0.5),
				MaxFutureDays: ptr(0),
			},
		},
		{
			Code:        string(model.EntityWaybill),
			DisplayName: "Waybill checks",
			Description: "Flags late shipments, waybills expiring soon and legacy records without a due date.",
			Defaults: rules.Thresholds{
				MaxDaysLate:       ptr(7),
				ExpiringSoonHours: ptr(48),
				LegacyCutoffDays:  ptr(365),
			},
		},
	}
}

// LoadOverlay reads extra or replacement type definitions from a YAML file
// with a top-level "types" list.
func LoadOverlay(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read overlay %s", path)
	}

	var wrapper struct {
		Types []Definition `yaml:"types"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse overlay")
	}
	for i, d := range wrapper.Types {
		if d.Code == "" {
			return nil, eris.Errorf("catalog: overlay entry %d has no code", i)
		}
	}
	return wrapper.Types, nil
}

// Overlay merges overlay definitions onto base by code. Non-empty overlay
// fields replace the base values; unknown codes are appended.
func Overlay(base, overlay []Definition) []Definition {
	out := slices.Clone(base)
	for _, o := range overlay {
		i := slices.IndexFunc(out, func(d Definition) bool { return d.Code == o.Code })
		if i < 0 {
			out = append(out, o)
			continue
		}
		d := out[i]
		if o.DisplayName != "" {
			d.DisplayName = o.DisplayName
		}
		if o.Description != "" {
			d.Description = o.Description
		}
		if o.Active != nil {
			d.Active = o.Active
		}
		d.Defaults = mergeThresholds(d.Defaults, o.Defaults)
		out[i] = d
	}
	return out
}

func mergeThresholds(base, over rules.Thresholds) rules.Thresholds {
	if over.MaxTaxRatio != nil {
		base.MaxTaxRatio = over.MaxTaxRatio
	}
	if over.MaxFutureDays != nil {
		base.MaxFutureDays = over.MaxFutureDays
	}
	if over.MaxDaysLate != nil {
		base.MaxDaysLate = over.MaxDaysLate
	}
	if over.ExpiringSoonHours != nil {
		base.ExpiringSoonHours = over.ExpiringSoonHours
	}
	if over.LegacyCutoffDays != nil {
		base.LegacyCutoffDays = over.LegacyCutoffDays
	}
	return base
}

// TypeStore is the persistence the catalog seeds into.
type TypeStore interface {
	UpsertType(ctx context.Context, t model.InvestigatorType) (*model.InvestigatorType, error)
	ListTypes(ctx context.Context) ([]model.InvestigatorType, error)
}

// Seed upserts defs into the store and returns the catalog of every type the
// store knows about. Types with no registered engine are kept but logged;
// starting one of their instances fails with model.ErrNoEngine.
func Seed(ctx context.Context, st TypeStore, defs []Definition, engines *rules.Registry) (*Catalog, error) {
	log := zap.L().With(zap.String("component", "catalog"))

	for _, d := range defs {
		if err := d.Defaults.Validate(); err != nil {
			return nil, eris.Wrapf(err, "catalog: type %s", d.Code)
		}
		cfg, err := d.Defaults.Marshal()
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: marshal defaults for %s", d.Code)
		}
		if _, err := st.UpsertType(ctx, model.InvestigatorType{
			Code:                 d.Code,
			DisplayName:          d.DisplayName,
			Description:          d.Description,
			DefaultConfiguration: cfg,
			IsActive:             d.active(),
		}); err != nil {
			return nil, eris.Wrapf(err, "catalog: seed %s", d.Code)
		}
		if engines != nil {
			if _, err := engines.Lookup(d.Code); err != nil {
				log.Warn("type has no rule engine", zap.String("code", d.Code))
			}
		}
	}

	types, err := st.ListTypes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list types")
	}
	log.Info("catalog seeded", zap.Int("types", len(types)))
	return New(types), nil
}

// Catalog is an immutable, concurrency-safe view of the investigator types.
type Catalog struct {
	types  []model.InvestigatorType
	byCode map[string]int
	byID   map[int64]int
}

// New builds a Catalog from persisted types.
func New(types []model.InvestigatorType) *Catalog {
	c := &Catalog{
		types:  slices.Clone(types),
		byCode: make(map[string]int, len(types)),
		byID:   make(map[int64]int, len(types)),
	}
	for i, t := range c.types {
		c.byCode[t.Code] = i
		c.byID[t.ID] = i
	}
	return c
}

// Lookup returns the active type with the given code.
func (c *Catalog) Lookup(code string) (model.InvestigatorType, error) {
	i, ok := c.byCode[code]
	if !ok || !c.types[i].IsActive {
		return model.InvestigatorType{}, eris.Wrapf(model.ErrUnknownType, "catalog: %q", code)
	}
	return c.types[i], nil
}

// ByID returns a type by id regardless of its active flag.
func (c *Catalog) ByID(id int64) (model.InvestigatorType, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.InvestigatorType{}, false
	}
	return c.types[i], true
}

// List returns every type, active or not, in id order.
func (c *Catalog) List() []model.InvestigatorType {
	return slices.Clone(c.types)
}
