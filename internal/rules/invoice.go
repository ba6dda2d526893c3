package rules

import (
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/sells-group/investigator/internal/model"
)

// InvoiceEngine flags negative amounts, excessive tax ratios and future-dated invoices.
type InvoiceEngine struct{}

// Entity implements Engine.
func (InvoiceEngine) Entity() model.EntityKind { return model.EntityInvoice }

// Evaluate implements Engine. Invoices are visited in dataset order and each
// rule is checked in a fixed order.
func (InvoiceEngine) Evaluate(ds *model.Dataset, th Resolved, now time.Time) iter.Seq2[model.Finding, error] {
	return func(yield func(model.Finding, error) bool) {
		if ds == nil {
			return
		}
		today := startOfDay(now)
		for _, inv := range ds.Invoices {
			for _, f := range checkInvoice(inv, th, today) {
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

func checkInvoice(inv model.Invoice, th Resolved, today time.Time) []model.Finding {
	var out []model.Finding

	if inv.TotalAmount < 0 {
		out = append(out, invoiceFinding(inv, model.SeverityCritical,
			fmt.Sprintf("negative amount %s on invoice %s", formatNum(inv.TotalAmount), invoiceLabel(inv)),
			map[string]any{"rule": "negative_amount", "totalAmount": inv.TotalAmount}))
	}

	if inv.TotalAmount != 0 {
		ratio := inv.TotalTax / inv.TotalAmount
		if ratio > th.MaxTaxRatio {
			out = append(out, invoiceFinding(inv, model.SeverityAnomaly,
				fmt.Sprintf("tax ratio %s > %s on invoice %s", formatNum(ratio), formatNum(th.MaxTaxRatio), invoiceLabel(inv)),
				map[string]any{
					"rule":        "excessive_tax_ratio",
					"ratio":       ratio,
					"maxTaxRatio": th.MaxTaxRatio,
					"totalAmount": inv.TotalAmount,
					"totalTax":    inv.TotalTax,
				}))
		}
	}

	limit := today.AddDate(0, 0, th.MaxFutureDays)
	if issued := startOfDay(inv.IssueDate.In(today.Location())); issued.After(limit) {
		ahead := daysBetween(today, issued)
		out = append(out, invoiceFinding(inv, model.SeverityAnomaly,
			fmt.Sprintf("future-dated invoice %s: issued %d days ahead > %d", invoiceLabel(inv), ahead, th.MaxFutureDays),
			map[string]any{
				"rule":          "future_dated",
				"issueDate":     issued.Format(time.DateOnly),
				"daysAhead":     ahead,
				"maxFutureDays": th.MaxFutureDays,
			}))
	}

	return out
}

func invoiceFinding(inv model.Invoice, sev model.Severity, msg string, payload map[string]any) model.Finding {
	return model.Finding{
		Severity:   sev,
		Message:    msg,
		EntityType: model.EntityInvoice,
		EntityID:   inv.ID,
		Payload:    payload,
	}
}

func invoiceLabel(inv model.Invoice) string {
	if inv.Number != "" {
		return inv.Number
	}
	return inv.ID
}

// formatNum renders a float with the fewest digits that round-trip.
func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
