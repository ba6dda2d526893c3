// Package notify fans investigation lifecycle events out to live
// subscribers. Delivery is best-effort: publishing never blocks or fails
// the caller.
package notify

import (
	"context"
	"time"

	"github.com/sells-group/investigator/internal/model"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindInvestigationStarted   Kind = "investigation_started"
	KindInvestigationCompleted Kind = "investigation_completed"
	KindNewResultAdded         Kind = "new_result_added"
	KindStatusChanged          Kind = "status_changed"
)

// Event is one lifecycle notification.
type Event struct {
	Kind        Kind          `json:"kind"`
	InstanceID  string        `json:"instance_id"`
	ExecutionID int64         `json:"execution_id,omitempty"`
	Status      string        `json:"status,omitempty"`
	ResultCount int           `json:"result_count"`
	Result      *model.Result `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}

// Publisher accepts events. Implementations must not block on slow
// consumers and must not surface delivery errors.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi publishes each event to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}
