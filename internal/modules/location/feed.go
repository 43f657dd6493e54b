// README: Kafka consumer feeding driver position fixes into the registry and index.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"fleetd/internal/modules/driver"
	"fleetd/internal/observability"
	"fleetd/internal/types"
)

const maxFeedBackoff = 30 * time.Second

// Message is the wire format of one position fix on the feed topic.
type Message struct {
	TenantID   string    `json:"tenant_id"`
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type Updater interface {
	UpdateLocation(ctx context.Context, u driver.LocationUpdate) error
}

type Feed struct {
	reader  MessageReader
	updater Updater
	log     *logrus.Entry
}

func NewFeed(reader MessageReader, updater Updater, log *logrus.Entry) *Feed {
	return &Feed{reader: reader, updater: updater, log: log}
}

// Run consumes until ctx is cancelled, backing off on read errors.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		m, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.WithError(err).WithField("backoff", backoff).Warn("kafka read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxFeedBackoff {
				backoff = maxFeedBackoff
			}
			continue
		}
		backoff = time.Second

		if err := f.Handle(ctx, m); err != nil {
			f.log.WithError(err).WithField("offset", m.Offset).Warn("location message dropped")
		}
	}
}

// Handle applies one message. Malformed or rejected fixes are counted and dropped.
func (f *Feed) Handle(ctx context.Context, m kafka.Message) error {
	var msg Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		observability.FeedMessages.WithLabelValues("invalid").Inc()
		return fmt.Errorf("decode location message: %w", err)
	}
	if msg.TenantID == "" || msg.DriverID == "" {
		observability.FeedMessages.WithLabelValues("invalid").Inc()
		return errors.New("location message missing tenant or driver")
	}

	err := f.updater.UpdateLocation(ctx, driver.LocationUpdate{
		TenantID:   types.TenantID(msg.TenantID),
		DriverID:   types.ID(msg.DriverID),
		Point:      types.Point{Lat: msg.Lat, Lng: msg.Lng},
		Heading:    msg.Heading,
		RecordedAt: msg.RecordedAt,
	})
	if err != nil {
		observability.FeedMessages.WithLabelValues("rejected").Inc()
		return err
	}
	observability.FeedMessages.WithLabelValues("applied").Inc()
	return nil
}
