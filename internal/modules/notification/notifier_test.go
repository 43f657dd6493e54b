package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

type fakeSender struct {
	msgs []*messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.msgs = append(f.msgs, m)
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Notification) error { return f.err }

func assigned() Notification {
	return Notification{
		TenantID:  "t1",
		RequestID: "r1",
		Kind:      request.KindTrip,
		Status:    request.StatusAssigned,
		ActorID:   "system",
		DriverID:  "d1",
		At:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFromEvent(t *testing.T) {
	driverID := types.ID("d9")
	actor := types.ID("dispatcher-1")
	r := &request.Request{ID: "r1", TenantID: "t1", Kind: request.KindParcel, AssignedDriverID: &driverID}
	ev := request.Event{Status: request.StatusAssigned, ActorID: &actor, ActorRole: request.RoleDispatcher}

	n := FromEvent(r, ev)
	assert.Equal(t, types.ID("d9"), n.DriverID)
	assert.Equal(t, types.ID("dispatcher-1"), n.ActorID)
	assert.Equal(t, request.KindParcel, n.Kind)

	r.AssignedDriverID = nil
	ev = request.Event{Status: request.StatusCancelled, Metadata: map[string]string{request.MetaDriverID: "d9"}}
	n = FromEvent(r, ev)
	assert.Equal(t, types.ID("d9"), n.DriverID)
	assert.Empty(t, n.ActorID)
}

func TestFCMNotifier_AssignedNotifiesDriverToo(t *testing.T) {
	s := &fakeSender{}
	require.NoError(t, NewFCMNotifier(s).Notify(context.Background(), assigned()))

	require.Len(t, s.msgs, 2)
	assert.Equal(t, "request_r1", s.msgs[0].Topic)
	assert.Equal(t, "ASSIGNED", s.msgs[0].Data["status"])
	assert.Equal(t, "driver_d1", s.msgs[1].Topic)
	assert.Equal(t, "new_assignment", s.msgs[1].Data["type"])
}

func TestFCMNotifier_OtherStatusesOnlyRequestTopic(t *testing.T) {
	s := &fakeSender{}
	n := assigned()
	n.Status = request.StatusStarted
	require.NoError(t, NewFCMNotifier(s).Notify(context.Background(), n))
	assert.Len(t, s.msgs, 1)
}

func TestFCMNotifier_SendError(t *testing.T) {
	s := &fakeSender{err: errors.New("unavailable")}
	err := NewFCMNotifier(s).Notify(context.Background(), assigned())
	assert.ErrorContains(t, err, "request_r1")
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafkaPublisher(w).Notify(context.Background(), assigned()))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("r1"), w.msgs[0].Key)
	var got Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, assigned(), got)
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	w := &fakeWriter{}
	boom := errors.New("boom")

	m := NewMulti().
		Add("broken", failingNotifier{err: boom}).
		Add("log", NewLogNotifier(logrus.NewEntry(log))).
		Add("kafka", NewKafkaPublisher(w)).
		Add("unset", nil)

	err := m.Notify(context.Background(), assigned())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, w.msgs, 1)
	assert.Len(t, m.sinks, 3)
}
