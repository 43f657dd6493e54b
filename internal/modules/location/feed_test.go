package location

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/internal/modules/driver"
)

type recordingUpdater struct {
	mu      sync.Mutex
	updates []driver.LocationUpdate
	err     error
}

func (r *recordingUpdater) UpdateLocation(_ context.Context, u driver.LocationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.err
}

// scriptedReader replays messages, then blocks until ctx is done.
type scriptedReader struct {
	msgs []kafka.Message
	errs []error
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return kafka.Message{}, err
	}
	if len(s.msgs) > 0 {
		m := s.msgs[0]
		s.msgs = s.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestFeedHandle(t *testing.T) {
	up := &recordingUpdater{}
	feed := NewFeed(nil, up, quietLogger())
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	heading := 90.0

	body, err := json.Marshal(Message{TenantID: "t1", DriverID: "d1", Lat: 1.5, Lng: 2.5, Heading: &heading, RecordedAt: at})
	require.NoError(t, err)
	require.NoError(t, feed.Handle(context.Background(), kafka.Message{Value: body}))

	require.Len(t, up.updates, 1)
	u := up.updates[0]
	assert.Equal(t, "t1", string(u.TenantID))
	assert.Equal(t, "d1", string(u.DriverID))
	assert.Equal(t, 1.5, u.Point.Lat)
	assert.Equal(t, 90.0, *u.Heading)
	assert.True(t, at.Equal(u.RecordedAt))

	assert.Error(t, feed.Handle(context.Background(), kafka.Message{Value: []byte("{not json")}))
	assert.Error(t, feed.Handle(context.Background(), kafka.Message{Value: []byte(`{"driver_id":"d1"}`)}))
	assert.Len(t, up.updates, 1)

	up.err = driver.ErrNotOnline
	assert.ErrorIs(t, feed.Handle(context.Background(), kafka.Message{Value: body}), driver.ErrNotOnline)
}

func TestFeedRun_StopsOnCancelAndSurvivesErrors(t *testing.T) {
	up := &recordingUpdater{}
	body, _ := json.Marshal(Message{TenantID: "t1", DriverID: "d1", Lat: 1, Lng: 1})
	reader := &scriptedReader{
		errs: []error{errors.New("broker unavailable")},
		msgs: []kafka.Message{{Value: body}, {Value: []byte("garbage")}, {Value: body}},
	}
	feed := NewFeed(reader, up, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool {
		up.mu.Lock()
		defer up.mu.Unlock()
		return len(up.updates) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}
