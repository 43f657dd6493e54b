package notification

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"fleetd/internal/modules/request"
)

// Sender is the subset of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier publishes data messages to per-request and per-driver topics.
// Customer apps subscribe to "request_<id>"; driver apps to "driver_<id>".
type FCMNotifier struct {
	sender Sender
}

func NewFCMNotifier(sender Sender) *FCMNotifier {
	return &FCMNotifier{sender: sender}
}

func RequestTopic(n Notification) string { return "request_" + string(n.RequestID) }

func DriverTopic(n Notification) string { return "driver_" + string(n.DriverID) }

func (f *FCMNotifier) Notify(ctx context.Context, n Notification) error {
	data := map[string]string{
		"type":       "request_status",
		"tenant_id":  string(n.TenantID),
		"request_id": string(n.RequestID),
		"kind":       string(n.Kind),
		"status":     string(n.Status),
		"driver_id":  string(n.DriverID),
	}

	msg := &messaging.Message{
		Topic: RequestTopic(n),
		Data:  data,
		Notification: &messaging.Notification{
			Title: "Request update",
			Body:  fmt.Sprintf("Your %s is now %s", kindLabel(n), n.Status),
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	if _, err := f.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", msg.Topic, err)
	}

	if n.DriverID == "" || n.Status != request.StatusAssigned {
		return nil
	}
	driverMsg := &messaging.Message{
		Topic: DriverTopic(n),
		Data:  map[string]string{"type": "new_assignment", "request_id": string(n.RequestID), "kind": string(n.Kind)},
		Notification: &messaging.Notification{
			Title: "New assignment",
			Body:  fmt.Sprintf("You have been assigned a %s", kindLabel(n)),
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	if _, err := f.sender.Send(ctx, driverMsg); err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", driverMsg.Topic, err)
	}
	return nil
}

func kindLabel(n Notification) string {
	if n.Kind == request.KindParcel {
		return "parcel"
	}
	return "trip"
}
