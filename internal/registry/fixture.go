package registry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/investigator/internal/model"
)

// Spec describes an instance to create.
type Spec struct {
	TypeCode      string          `json:"typeCode"`
	CustomName    string          `json:"customName,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// LoadSpecsFromFile reads a JSON array of Spec from the given path.
func LoadSpecsFromFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read instance fixture")
	}

	var specs []Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal instance fixture")
	}
	return specs, nil
}

// CreateAll creates each spec in order, skipping names that already exist.
// It stops at the first other error.
func (r *Registry) CreateAll(ctx context.Context, specs []Spec) (created []*model.Instance, skipped int, err error) {
	for _, s := range specs {
		inst, err := r.Create(ctx, s.TypeCode, s.CustomName, s.Configuration)
		if eris.Is(err, model.ErrDuplicateName) {
			skipped++
			continue
		}
		if err != nil {
			return created, skipped, eris.Wrapf(err, "registry: create %s/%s", s.TypeCode, s.CustomName)
		}
		created = append(created, inst)
	}
	return created, skipped, nil
}
