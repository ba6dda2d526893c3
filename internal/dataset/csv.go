// Package dataset loads business records (invoices, waybills) from CSV
// files into the store, replacing the current snapshot.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/model"
)

// Replacer is the slice of the store an import writes to.
type Replacer interface {
	ReplaceInvoices(ctx context.Context, invoices []model.Invoice) (int, error)
	ReplaceWaybills(ctx context.Context, waybills []model.Waybill) (int, error)
}

// ParseKind validates an entity kind name.
func ParseKind(s string) (model.EntityKind, error) {
	switch k := model.EntityKind(strings.ToLower(strings.TrimSpace(s))); k {
	case model.EntityInvoice, model.EntityWaybill:
		return k, nil
	default:
		return "", eris.Errorf("dataset: unknown kind %q (invoice, waybill)", s)
	}
}

type invoiceRow struct {
	ID          string  `csv:"id"`
	Number      string  `csv:"number"`
	TotalAmount float64 `csv:"total_amount"`
	TotalTax    float64 `csv:"total_tax"`
	IssueDate   string  `csv:"issue_date"`
}

type waybillRow struct {
	ID             string `csv:"id"`
	Number         string `csv:"number"`
	GoodsIssueDate string `csv:"goods_issue_date"`
	DueDate        string `csv:"due_date,omitempty"`
}

// DecodeInvoices reads invoices from CSV with a header row. Dates accept
// RFC 3339 or YYYY-MM-DD.
func DecodeInvoices(r io.Reader) ([]model.Invoice, error) {
	rows, err := decodeAll[invoiceRow](r)
	if err != nil {
		return nil, err
	}
	out := make([]model.Invoice, 0, len(rows))
	for i, row := range rows {
		issued, err := parseDate(row.IssueDate)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: invoice row %d issue_date", i+1)
		}
		out = append(out, model.Invoice{
			ID:          row.ID,
			Number:      row.Number,
			TotalAmount: row.TotalAmount,
			TotalTax:    row.TotalTax,
			IssueDate:   issued,
		})
	}
	return out, nil
}

// DecodeWaybills reads waybills from CSV with a header row. An empty
// due_date leaves DueDate nil.
func DecodeWaybills(r io.Reader) ([]model.Waybill, error) {
	rows, err := decodeAll[waybillRow](r)
	if err != nil {
		return nil, err
	}
	out := make([]model.Waybill, 0, len(rows))
	for i, row := range rows {
		issued, err := parseDate(row.GoodsIssueDate)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: waybill row %d goods_issue_date", i+1)
		}
		wb := model.Waybill{ID: row.ID, Number: row.Number, GoodsIssueDate: issued}
		if strings.TrimSpace(row.DueDate) != "" {
			due, err := parseDate(row.DueDate)
			if err != nil {
				return nil, eris.Wrapf(err, "dataset: waybill row %d due_date", i+1)
			}
			wb.DueDate = &due
		}
		out = append(out, wb)
	}
	return out, nil
}

// ImportFile decodes path as kind and replaces that dataset in st.
func ImportFile(ctx context.Context, st Replacer, kind model.EntityKind, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrap(err, "dataset: open")
	}
	defer f.Close() //nolint:errcheck
	return Import(ctx, st, kind, f)
}

// Import decodes r as kind and replaces that dataset in st.
func Import(ctx context.Context, st Replacer, kind model.EntityKind, r io.Reader) (int, error) {
	log := zap.L().With(zap.String("component", "dataset"), zap.String("kind", string(kind)))

	var n int
	switch kind {
	case model.EntityInvoice:
		rows, err := DecodeInvoices(r)
		if err != nil {
			return 0, err
		}
		if n, err = st.ReplaceInvoices(ctx, rows); err != nil {
			return 0, eris.Wrap(err, "dataset: replace invoices")
		}
	case model.EntityWaybill:
		rows, err := DecodeWaybills(r)
		if err != nil {
			return 0, err
		}
		if n, err = st.ReplaceWaybills(ctx, rows); err != nil {
			return 0, eris.Wrap(err, "dataset: replace waybills")
		}
	default:
		return 0, eris.Errorf("dataset: unknown kind %q", kind)
	}

	log.Info("dataset replaced", zap.Int("rows", n))
	return n, nil
}

func decodeAll[T any](r io.Reader) ([]T, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	dec, err := csvutil.NewDecoder(reader)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read header")
	}

	var out []T
	for {
		var row T
		if err := dec.Decode(&row); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "dataset: decode row %d", len(out)+1)
		}
		out = append(out, row)
	}
	return out, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid date %q", s)
}
