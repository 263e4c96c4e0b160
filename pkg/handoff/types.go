package handoff

import (
	"context"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
)

// PayloadKind is the work a yielding launch forwards to the owner
type PayloadKind string

const (
	PayloadOpenDocument    PayloadKind = "open_document"
	PayloadEnterWhiteboard PayloadKind = "enter_whiteboard"
	PayloadShowFloatingBar PayloadKind = "show_floating_bar"
)

type Payload struct {
	Kind PayloadKind `json:"kind"`
	// Path is set for open_document
	Path        string    `json:"path,omitempty"`
	SenderPID   int       `json:"sender_pid"`
	SenderRunID string    `json:"sender_run_id,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

func (p Payload) Validate() error {
	switch p.Kind {
	case PayloadOpenDocument:
		if p.Path == "" {
			return errors.NewValidationError("document path is required", nil).WithContext("kind", p.Kind)
		}
	case PayloadEnterWhiteboard, PayloadShowFloatingBar:
	default:
		return errors.NewValidationError("unknown payload kind", nil).WithContext("kind", p.Kind)
	}
	return nil
}

// PayloadHandler is implemented by the UI layer of the owning instance
type PayloadHandler interface {
	HandlePayload(ctx context.Context, payload Payload) error
}

type PayloadHandlerFunc func(ctx context.Context, payload Payload) error

func (f PayloadHandlerFunc) HandlePayload(ctx context.Context, payload Payload) error {
	return f(ctx, payload)
}

type DeliveryResponse struct {
	Accepted  bool   `json:"accepted"`
	RequestID string `json:"request_id"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	OwnerPID int    `json:"owner_pid"`
	Mode     string `json:"mode"`
	Uptime   string `json:"uptime"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Context map[string]string `json:"context,omitempty"`
}
