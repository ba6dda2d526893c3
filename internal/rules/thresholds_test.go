package rules

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/investigator/internal/model"
)

func TestParseThresholds_Empty(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "{}"} {
		th, err := ParseThresholds([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, Thresholds{}, th)
	}
}

func TestParseThresholds_UnknownKey(t *testing.T) {
	_, err := ParseThresholds([]byte(`{"maxTaxRatio":0.3,"maxTaxRate":1}`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrInvalidConfig))
}

func TestParseThresholds_WrongType(t *testing.T) {
	_, err := ParseThresholds([]byte(`{"maxDaysLate":"seven"}`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrInvalidConfig))
}

func TestParseThresholds_Negative(t *testing.T) {
	_, err := ParseThresholds([]byte(`{"maxDaysLate":-1}`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "maxDaysLate")
}

func TestParseThresholds_NegativeReportsFirstFieldStably(t *testing.T) {
	raw := []byte(`{"legacyCutoffDays":-3,"maxDaysLate":-1,"maxFutureDays":-2}`)
	for range 20 {
		_, err := ParseThresholds(raw)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maxFutureDays must be >= 0")
	}
}

func TestParseThresholds_TrailingData(t *testing.T) {
	for _, raw := range []string{
		`{"maxTaxRatio":1} garbage`,
		`{"maxTaxRatio":1}{"maxDaysLate":2}`,
	} {
		_, err := ParseThresholds([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, eris.Is(err, model.ErrInvalidConfig), raw)
	}

	th, err := ParseThresholds([]byte("{\"maxTaxRatio\":1}\n"))
	require.NoError(t, err)
	require.NotNil(t, th.MaxTaxRatio)
}

func TestResolve_Precedence(t *testing.T) {
	typeDefault := []byte(`{"maxTaxRatio":0.3,"maxDaysLate":5}`)
	instance := []byte(`{"maxDaysLate":2}`)

	r, err := Resolve(typeDefault, instance)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, r.MaxTaxRatio, 1e-9) // type over fallback
	assert.Equal(t, 2, r.MaxDaysLate)           // instance over type
	assert.Equal(t, 48, r.ExpiringSoonHours)    // fallback
	assert.Equal(t, 365, r.LegacyCutoffDays)
}

func TestResolve_ZeroOverridesFallback(t *testing.T) {
	r, err := Resolve(nil, []byte(`{"maxDaysLate":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, r.MaxDaysLate)
}

func TestResolve_MalformedInstance(t *testing.T) {
	_, err := Resolve(nil, []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "instance configuration")
}

func TestThresholds_MarshalRoundTrip(t *testing.T) {
	days := 3
	raw, err := Thresholds{MaxDaysLate: &days}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxDaysLate":3}`, string(raw))
}
