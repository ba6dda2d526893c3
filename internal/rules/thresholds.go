package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/investigator/internal/model"
)

// Thresholds is the stored form of an investigator configuration. Unset
// fields fall through to the next layer when merged.
type Thresholds struct {
	MaxTaxRatio       *float64 `json:"maxTaxRatio,omitempty" yaml:"maxTaxRatio,omitempty"`
	MaxFutureDays     *int     `json:"maxFutureDays,omitempty" yaml:"maxFutureDays,omitempty"`
	MaxDaysLate       *int     `json:"maxDaysLate,omitempty" yaml:"maxDaysLate,omitempty"`
	ExpiringSoonHours *int     `json:"expiringSoonHours,omitempty" yaml:"expiringSoonHours,omitempty"`
	LegacyCutoffDays  *int     `json:"legacyCutoffDays,omitempty" yaml:"legacyCutoffDays,omitempty"`
}

// Resolved is a fully-populated configuration handed to an engine.
type Resolved struct {
	MaxTaxRatio       float64 `json:"maxTaxRatio"`
	MaxFutureDays     int     `json:"maxFutureDays"`
	MaxDaysLate       int     `json:"maxDaysLate"`
	ExpiringSoonHours int     `json:"expiringSoonHours"`
	LegacyCutoffDays  int     `json:"legacyCutoffDays"`
}

// Fallback returns the hard-coded bottom layer of the merge.
func Fallback() Resolved {
	return Resolved{
		MaxTaxRatio:       0.5,
		MaxFutureDays:     0,
		MaxDaysLate:       7,
		ExpiringSoonHours: 48,
		LegacyCutoffDays:  365,
	}
}

// ParseThresholds decodes a stored configuration blob. Unknown keys and
// negative values are rejected with model.ErrInvalidConfig. An empty blob
// yields empty Thresholds.
func ParseThresholds(raw []byte) (Thresholds, error) {
	var th Thresholds
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return th, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&th); err != nil {
		return Thresholds{}, eris.Wrapf(model.ErrInvalidConfig, "decode thresholds: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Thresholds{}, eris.Wrap(model.ErrInvalidConfig, "decode thresholds: trailing data after object")
	}
	if err := th.Validate(); err != nil {
		return Thresholds{}, err
	}
	return th, nil
}

// Validate rejects negative thresholds.
func (t Thresholds) Validate() error {
	if t.MaxTaxRatio != nil && *t.MaxTaxRatio < 0 {
		return eris.Wrapf(model.ErrInvalidConfig, "maxTaxRatio must be >= 0, got %g", *t.MaxTaxRatio)
	}
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"maxFutureDays", t.MaxFutureDays},
		{"maxDaysLate", t.MaxDaysLate},
		{"expiringSoonHours", t.ExpiringSoonHours},
		{"legacyCutoffDays", t.LegacyCutoffDays},
	} {
		if f.v != nil && *f.v < 0 {
			return eris.Wrapf(model.ErrInvalidConfig, "%s must be >= 0, got %d", f.name, *f.v)
		}
	}
	return nil
}

// Marshal encodes the thresholds for storage.
func (t Thresholds) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, eris.Wrap(err, "encode thresholds")
	}
	return b, nil
}

// Merge layers the given thresholds over base; later layers win.
func Merge(base Resolved, layers ...Thresholds) Resolved {
	out := base
	for _, l := range layers {
		if l.MaxTaxRatio != nil {
			out.MaxTaxRatio = *l.MaxTaxRatio
		}
		if l.MaxFutureDays != nil {
			out.MaxFutureDays = *l.MaxFutureDays
		}
		if l.MaxDaysLate != nil {
			out.MaxDaysLate = *l.MaxDaysLate
		}
		if l.ExpiringSoonHours != nil {
			out.ExpiringSoonHours = *l.ExpiringSoonHours
		}
		if l.LegacyCutoffDays != nil {
			out.LegacyCutoffDays = *l.LegacyCutoffDays
		}
	}
	return out
}

// Resolve merges instance over type over fallback, parsing both blobs.
func Resolve(typeDefault, instanceOverride []byte) (Resolved, error) {
	typ, err := ParseThresholds(typeDefault)
	if err != nil {
		return Resolved{}, eris.Wrap(err, "type default configuration")
	}
	inst, err := ParseThresholds(instanceOverride)
	if err != nil {
		return Resolved{}, eris.Wrap(err, "instance configuration")
	}
	return Merge(Fallback(), typ, inst), nil
}

func (r Resolved) String() string {
	return fmt.Sprintf("maxTaxRatio=%g maxFutureDays=%d maxDaysLate=%d expiringSoonHours=%d legacyCutoffDays=%d",
		r.MaxTaxRatio, r.MaxFutureDays, r.MaxDaysLate, r.ExpiringSoonHours, r.LegacyCutoffDays)
}
