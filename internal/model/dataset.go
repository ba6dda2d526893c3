package model

import "time"

// EntityKind names a business record kind scanned by the rule engines.
type EntityKind string

const (
	EntityInvoice EntityKind = "invoice"
	EntityWaybill EntityKind = "waybill"
)

// Invoice is a business invoice record.
type Invoice struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	TotalAmount float64   `json:"total_amount"`
	TotalTax    float64   `json:"total_tax"`
	IssueDate   time.Time `json:"issue_date"`
}

// Waybill is a goods-issue document. DueDate is optional.
type Waybill struct {
	ID             string     `json:"id"`
	Number         string     `json:"number"`
	GoodsIssueDate time.Time  `json:"goods_issue_date"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// Dataset is a read-only snapshot handed to a rule engine. Only the slice
// matching the engine's entity kind is populated.
type Dataset struct {
	Invoices []Invoice
	Waybills []Waybill
}
