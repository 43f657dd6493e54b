// README: Best-effort fan-out of committed request transitions.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"fleetd/internal/modules/request"
	"fleetd/internal/observability"
	"fleetd/internal/types"
)

// Notification describes one committed transition.
type Notification struct {
	TenantID  types.TenantID `json:"tenant_id"`
	RequestID types.ID       `json:"request_id"`
	Kind      request.Kind   `json:"kind"`
	Status    request.Status `json:"status"`
	ActorID   types.ID       `json:"actor_id,omitempty"`
	ActorRole request.Role   `json:"actor_role,omitempty"`
	DriverID  types.ID       `json:"driver_id,omitempty"`
	At        time.Time      `json:"at"`
}

// FromEvent builds the notification for ev, which must already be committed on r.
func FromEvent(r *request.Request, ev request.Event) Notification {
	n := Notification{
		TenantID:  r.TenantID,
		RequestID: r.ID,
		Kind:      r.Kind,
		Status:    ev.Status,
		ActorRole: ev.ActorRole,
		At:        ev.At,
	}
	if ev.ActorID != nil {
		n.ActorID = *ev.ActorID
	}
	switch {
	case r.AssignedDriverID != nil:
		n.DriverID = *r.AssignedDriverID
	case ev.Metadata[request.MetaDriverID] != "":
		n.DriverID = types.ID(ev.Metadata[request.MetaDriverID])
	}
	return n
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes every notification to the log.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.WithFields(logrus.Fields{
		"tenant_id":  n.TenantID,
		"request_id": n.RequestID,
		"kind":       n.Kind,
		"status":     n.Status,
		"actor_id":   n.ActorID,
		"driver_id":  n.DriverID,
	}).Info("request transition")
	return nil
}

type namedNotifier struct {
	name string
	n    Notifier
}

// Multi delivers to every sink; one failing sink does not stop the others.
type Multi struct {
	sinks []namedNotifier
}

func NewMulti() *Multi {
	return &Multi{}
}

// Add registers a sink under name, used as the failure metric label.
func (m *Multi) Add(name string, n Notifier) *Multi {
	if n != nil {
		m.sinks = append(m.sinks, namedNotifier{name: name, n: n})
	}
	return m
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.n.Notify(ctx, n); err != nil {
			observability.NotificationFailures.WithLabelValues(s.name).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
