package rules

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/investigator/internal/model"
)

var refNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func collect(t *testing.T, e Engine, ds *model.Dataset, th Resolved) []model.Finding {
	t.Helper()
	var out []model.Finding
	for f, err := range e.Evaluate(ds, th, refNow) {
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestInvoice_NegativeAmount(t *testing.T) {
	th := Merge(Fallback(), Thresholds{MaxTaxRatio: floatPtr(0.5), MaxFutureDays: intPtr(0)})
	ds := &model.Dataset{Invoices: []model.Invoice{
		{ID: "inv-1", TotalAmount: -50, TotalTax: 5, IssueDate: refNow},
	}}

	got := collect(t, InvoiceEngine{}, ds, th)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
	assert.Contains(t, got[0].Message, "negative amount")
	assert.Equal(t, model.EntityInvoice, got[0].EntityType)
	assert.Equal(t, "inv-1", got[0].EntityID)
}

func TestInvoice_ExcessiveTaxRatio(t *testing.T) {
	th := Merge(Fallback(), Thresholds{MaxTaxRatio: floatPtr(0.5), MaxFutureDays: intPtr(0)})
	ds := &model.Dataset{Invoices: []model.Invoice{
		{ID: "inv-2", TotalAmount: 100, TotalTax: 60, IssueDate: refNow},
	}}

	got := collect(t, InvoiceEngine{}, ds, th)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityAnomaly, got[0].Severity)
	assert.Contains(t, got[0].Message, "tax ratio 0.6 > 0.5")
	assert.Equal(t, "excessive_tax_ratio", got[0].Payload["rule"])
}

func TestInvoice_ZeroAmountSkipsRatio(t *testing.T) {
	ds := &model.Dataset{Invoices: []model.Invoice{
		{ID: "inv-3", TotalAmount: 0, TotalTax: 10, IssueDate: refNow},
	}}
	assert.Empty(t, collect(t, InvoiceEngine{}, ds, Fallback()))
}

func TestInvoice_FutureDated(t *testing.T) {
	th := Merge(Fallback(), Thresholds{MaxFutureDays: intPtr(2)})
	ds := &model.Dataset{Invoices: []model.Invoice{
		{ID: "ok", TotalAmount: 10, IssueDate: refNow.AddDate(0, 0, 2)},
		{ID: "future", TotalAmount: 10, IssueDate: refNow.AddDate(0, 0, 3)},
	}}

	got := collect(t, InvoiceEngine{}, ds, th)
	require.Len(t, got, 1)
	assert.Equal(t, "future", got[0].EntityID)
	assert.Contains(t, got[0].Message, "future-dated")
	assert.Equal(t, 3, got[0].Payload["daysAhead"])
}

func TestInvoice_Deterministic(t *testing.T) {
	ds := &model.Dataset{Invoices: []model.Invoice{
		{ID: "a", TotalAmount: -1, TotalTax: 5, IssueDate: refNow.AddDate(0, 0, 5)},
		{ID: "b", TotalAmount: 100, TotalTax: 90, IssueDate: refNow},
		{ID: "c", TotalAmount: 100, TotalTax: 1, IssueDate: refNow},
	}}

	first := collect(t, InvoiceEngine{}, ds, Fallback())
	second := collect(t, InvoiceEngine{}, ds, Fallback())
	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, model.SeverityCritical, first[0].Severity)
	assert.Equal(t, "a", first[1].EntityID) // future-dated, after the critical
	assert.Equal(t, "b", first[2].EntityID)
}

func TestInvoice_EarlyStop(t *testing.T) {
	ds := &model.Dataset{Invoices: []model.Invoice{
		{ID: "a", TotalAmount: -1},
		{ID: "b", TotalAmount: -1},
	}}
	n := 0
	for range (InvoiceEngine{}).Evaluate(ds, Fallback(), refNow) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestWaybill_Late(t *testing.T) {
	th := Merge(Fallback(), Thresholds{MaxDaysLate: intPtr(7)})
	ds := &model.Dataset{Waybills: []model.Waybill{
		{ID: "wb-1", GoodsIssueDate: refNow.AddDate(0, 0, -10)},
	}}

	got := collect(t, WaybillEngine{}, ds, th)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityAnomaly, got[0].Severity)
	assert.Contains(t, got[0].Message, "10 > 7 days")
}

func TestWaybill_ExpiringSoon(t *testing.T) {
	due := refNow.Add(12 * time.Hour)
	past := refNow.Add(-time.Hour)
	far := refNow.Add(100 * time.Hour)
	ds := &model.Dataset{Waybills: []model.Waybill{
		{ID: "soon", GoodsIssueDate: refNow, DueDate: &due},
		{ID: "overdue", GoodsIssueDate: refNow, DueDate: &past},
		{ID: "far", GoodsIssueDate: refNow, DueDate: &far},
	}}

	got := collect(t, WaybillEngine{}, ds, Fallback())
	require.Len(t, got, 1)
	assert.Equal(t, "soon", got[0].EntityID)
	assert.Equal(t, model.SeverityInfo, got[0].Severity)
	assert.Equal(t, 12, got[0].Payload["hoursLeft"])
}

func TestWaybill_Legacy(t *testing.T) {
	th := Merge(Fallback(), Thresholds{MaxDaysLate: intPtr(100000), LegacyCutoffDays: intPtr(30)})
	due := refNow.Add(1000 * time.Hour)
	ds := &model.Dataset{Waybills: []model.Waybill{
		{ID: "old", GoodsIssueDate: refNow.AddDate(0, 0, -31)},
		{ID: "old-with-due", GoodsIssueDate: refNow.AddDate(0, 0, -31), DueDate: &due},
		{ID: "recent", GoodsIssueDate: refNow.AddDate(0, 0, -29)},
	}}

	got := collect(t, WaybillEngine{}, ds, th)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].EntityID)
	assert.Contains(t, got[0].Message, "legacy")
}

func TestRegistry_Lookup(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"invoice", "waybill"}, r.Codes())

	e, err := r.Lookup("invoice")
	require.NoError(t, err)
	assert.Equal(t, model.EntityInvoice, e.Entity())

	_, err = r.Lookup("payroll")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNoEngine))
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("invoice", InvoiceEngine{}))
	assert.Error(t, r.Register("invoice", InvoiceEngine{}))
	assert.Error(t, r.Register("", InvoiceEngine{}))
}
