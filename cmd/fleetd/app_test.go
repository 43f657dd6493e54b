package main

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/internal/config"
	"fleetd/internal/modules/notification"
	"fleetd/internal/modules/pooling"
	"fleetd/internal/modules/request"
	"fleetd/internal/storage/memory"
	"fleetd/internal/types"
)

func TestNewApp_InMemoryWiring(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	cfg := config.Defaults()
	a, err := newApp(context.Background(), cfg, entry)
	require.NoError(t, err)
	defer a.close()
	assert.IsType(t, &memory.Store{}, a.store)

	coord, err := buildCoordinator(a, cfg, entry, pooling.Haversine{}, notification.NewMulti())
	require.NoError(t, err)
	defer coord.Wait()

	r, err := coord.CreateRequest(context.Background(), "tenant-a", request.CreateCommand{
		CustomerID: "cust-1",
		Kind:       request.KindParcel,
		Pickup:     types.Place{Point: types.Point{Lat: 25.03, Lng: 121.56}},
		Dropoff:    types.Place{Point: types.Point{Lat: 25.05, Lng: 121.52}},
	})
	require.NoError(t, err)
	assert.Equal(t, request.StatusCreated, r.Status)
}

func TestLocationFeed_RequiresTopic(t *testing.T) {
	cfg := config.Defaults()
	cfg.Kafka.LocationTopic = ""
	a := &app{cfg: cfg}
	_, err := a.locationFeed()
	assert.Error(t, err)
}
