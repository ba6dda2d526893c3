package rules

import (
	"fmt"
	"iter"
	"time"

	"github.com/sells-group/investigator/internal/model"
)

// WaybillEngine flags late shipments, waybills nearing their due date and
// legacy records without a due date.
type WaybillEngine struct{}

// Entity implements Engine.
func (WaybillEngine) Entity() model.EntityKind { return model.EntityWaybill }

// Evaluate implements Engine.
func (WaybillEngine) Evaluate(ds *model.Dataset, th Resolved, now time.Time) iter.Seq2[model.Finding, error] {
	return func(yield func(model.Finding, error) bool) {
		if ds == nil {
			return
		}
		for _, wb := range ds.Waybills {
			for _, f := range checkWaybill(wb, th, now) {
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

func checkWaybill(wb model.Waybill, th Resolved, now time.Time) []model.Finding {
	var out []model.Finding
	today := startOfDay(now)
	issued := startOfDay(wb.GoodsIssueDate.In(now.Location()))

	if late := daysBetween(issued, today); late > th.MaxDaysLate {
		out = append(out, waybillFinding(wb, model.SeverityAnomaly,
			fmt.Sprintf("late shipment on waybill %s: %d > %d days", waybillLabel(wb), late, th.MaxDaysLate),
			map[string]any{
				"rule":           "late_shipment",
				"goodsIssueDate": issued.Format(time.DateOnly),
				"daysLate":       late,
				"maxDaysLate":    th.MaxDaysLate,
			}))
	}

	if wb.DueDate != nil {
		due := *wb.DueDate
		window := now.Add(time.Duration(th.ExpiringSoonHours) * time.Hour)
		if due.After(now) && !due.After(window) {
			hoursLeft := int(due.Sub(now).Hours())
			out = append(out, waybillFinding(wb, model.SeverityInfo,
				fmt.Sprintf("waybill %s expiring soon: due in %dh (window %dh)", waybillLabel(wb), hoursLeft, th.ExpiringSoonHours),
				map[string]any{
					"rule":              "expiring_soon",
					"dueDate":           due.UTC().Format(time.RFC3339),
					"hoursLeft":         hoursLeft,
					"expiringSoonHours": th.ExpiringSoonHours,
				}))
		}
	} else if cutoff := today.AddDate(0, 0, -th.LegacyCutoffDays); issued.Before(cutoff) {
		out = append(out, waybillFinding(wb, model.SeverityInfo,
			fmt.Sprintf("legacy waybill %s: issued before %s with no due date", waybillLabel(wb), cutoff.Format(time.DateOnly)),
			map[string]any{
				"rule":             "legacy_record",
				"goodsIssueDate":   issued.Format(time.DateOnly),
				"legacyCutoffDays": th.LegacyCutoffDays,
			}))
	}

	return out
}

func waybillFinding(wb model.Waybill, sev model.Severity, msg string, payload map[string]any) model.Finding {
	return model.Finding{
		Severity:   sev,
		Message:    msg,
		EntityType: model.EntityWaybill,
		EntityID:   wb.ID,
		Payload:    payload,
	}
}

func waybillLabel(wb model.Waybill) string {
	if wb.Number != "" {
		return wb.Number
	}
	return wb.ID
}
