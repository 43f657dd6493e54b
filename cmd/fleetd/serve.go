// README: serve command; starts the HTTP API, the retry scheduler and optional feed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetd/internal/config"
	httptransport "fleetd/internal/http"
	"fleetd/internal/http/handlers"
	"fleetd/internal/infra"
	"fleetd/internal/maps"
	"fleetd/internal/modules/dispatch"
	"fleetd/internal/modules/location"
	"fleetd/internal/modules/matching"
	"fleetd/internal/modules/notification"
	"fleetd/internal/modules/pooling"
	"fleetd/internal/observability"
)

const shutdownGrace = 10 * time.Second

var withFeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&withFeed, "with-feed", false, "also consume the Kafka location feed in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	var (
		verifier infra.TokenVerifier
		geocoder handlers.Geocoder
		matrix   pooling.Matrix = pooling.Haversine{}
	)
	notifier := notification.NewMulti().Add("log", notification.NewLogNotifier(observability.Component(log, "notify")))

	if cfg.Firebase.ProjectID != "" {
		fb, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		if verifier, err = infra.NewFirebaseVerifier(ctx, fb); err != nil {
			return err
		}
		fcm, err := infra.NewMessaging(ctx, fb)
		if err != nil {
			return err
		}
		notifier.Add("fcm", notification.NewFCMNotifier(fcm))
	} else {
		log.Warn("firebase not configured; trusting X-Actor-ID headers")
	}

	if cfg.Maps.APIKey != "" {
		places, err := maps.NewPlacesService(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return err
		}
		geocoder = places
		if cfg.Pooling.UseRoadDistance {
			routes, err := maps.NewRouteService(cfg.Maps.APIKey)
			if err != nil {
				return err
			}
			matrix = pooling.WithFallback(routes, observability.Component(log, "pooling"))
		}
	}

	if cfg.Kafka.Enabled {
		w := infra.NewEventWriter(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
		a.closers = append(a.closers, func() { _ = w.Close() })
		notifier.Add("kafka", notification.NewKafkaPublisher(w))
	}

	var feed *location.Feed
	if withFeed {
		if !cfg.Kafka.Enabled {
			return errors.New("--with-feed needs kafka.enabled")
		}
		if feed, err = a.locationFeed(); err != nil {
			return err
		}
	}

	coord, err := buildCoordinator(a, cfg, log, matrix, notifier)
	if err != nil {
		return err
	}

	api := httptransport.NewServer(httptransport.ServerDeps{
		Dispatch: coord,
		Drivers:  a.drivers,
		Geocoder: geocoder,
		Verifier: verifier,
		Log:      observability.Component(log, "http"),
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Dispatch.AutoDispatch {
		g.Go(func() error { return coord.RunRetryScheduler(gctx) })
	}
	if feed != nil {
		g.Go(func() error { return feed.Run(gctx) })
	}

	err = g.Wait()
	coord.Wait()
	log.Info("fleetd stopped")
	return err
}

func buildCoordinator(a *app, cfg config.Config, log *logrus.Entry, matrix pooling.Matrix, notifier notification.Notifier) (*dispatch.Coordinator, error) {
	finder := location.NewService(a.index, a.store, cfg.Location.MaxAge)
	engine := matching.NewEngine(finder, nil, cfg.Matching, observability.Component(log, "matching"))
	planner := pooling.NewPlanner(matrix, cfg.Pooling)
	return dispatch.NewCoordinator(a.store, engine, planner, notifier, cfg.Dispatch, cfg.Pooling, observability.Component(log, "dispatch"))
}
