package notify

import (
	"context"

	"github.com/agrovista/agromonitor/pkg/model"
)

// Event is the payload handed to relays when the engine creates an alert.
// Delivery to end users (email, push) happens in external systems; relays
// only hand the event off.
type Event struct {
	Kind        string       `json:"kind"`
	ProjectName string       `json:"project_name,omitempty"`
	Alert       *model.Alert `json:"alert"`
}

// Notifier relays alert events to external systems.
type Notifier interface {
	// Name returns the relay identifier.
	Name() string

	// Send delivers an event. Implementations must be safe for concurrent use.
	Send(ctx context.Context, event Event) error
}
