// README: Wiring of storage, position index and the driver registry.
package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"fleetd/internal/config"
	"fleetd/internal/infra"
	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/location"
	"fleetd/internal/observability"
	"fleetd/internal/storage"
	"fleetd/internal/storage/memory"
	"fleetd/internal/storage/postgres"
)

type app struct {
	cfg     config.Config
	log     *logrus.Entry
	store   storage.Store
	index   location.Index
	drivers *driver.Service
	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Entry) (*app, error) {
	a := &app{cfg: cfg, log: log}

	switch cfg.Storage {
	case "postgres":
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.store = postgres.NewStore(db)
	default:
		a.store = memory.NewStore()
	}

	switch cfg.Index.Driver {
	case "redis":
		rc, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.index = location.NewRedisIndex(rc)
	default:
		a.index = location.NewMemoryIndex(cfg.Index.GeohashPrecision)
	}

	a.drivers = driver.NewService(a.store, a.index, observability.Component(log, "drivers"))
	log.WithFields(logrus.Fields{"storage": cfg.Storage, "index": cfg.Index.Driver}).Info("storage ready")
	return a, nil
}

// locationFeed builds the Kafka consumer that feeds driver positions into the registry.
func (a *app) locationFeed() (*location.Feed, error) {
	if len(a.cfg.Kafka.Brokers) == 0 || a.cfg.Kafka.LocationTopic == "" {
		return nil, fmt.Errorf("kafka.brokers and kafka.location_topic are required for the location feed")
	}
	reader := infra.NewLocationReader(a.cfg.Kafka.Brokers, a.cfg.Kafka.LocationTopic, a.cfg.Kafka.GroupID)
	a.closers = append(a.closers, func() { _ = reader.Close() })
	return location.NewFeed(reader, a.drivers, observability.Component(a.log, "location-feed")), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
