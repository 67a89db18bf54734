package main

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/nerrad567/procpipe/internal/api"
	"github.com/nerrad567/procpipe/internal/history"
	"github.com/nerrad567/procpipe/internal/infrastructure/config"
	"github.com/nerrad567/procpipe/internal/infrastructure/database"
	"github.com/nerrad567/procpipe/internal/infrastructure/influxdb"
	"github.com/nerrad567/procpipe/internal/infrastructure/logging"
	"github.com/nerrad567/procpipe/internal/infrastructure/mqtt"
	"github.com/nerrad567/procpipe/internal/lifecycle"
	"github.com/nerrad567/procpipe/internal/process"
	"github.com/nerrad567/procpipe/internal/runner"
	"github.com/nerrad567/procpipe/migrations"
)

// remoteStopTimeout bounds how long an MQTT stop request waits on the runner.
const remoteStopTimeout = 5 * time.Second

// services holds the optional backends of one run. Nil fields are disabled.
type services struct {
	cfg *config.Config
	log *logging.Logger

	db      *database.DB
	history *history.SQLiteRepository
	mqtt    *mqtt.Client
	influx  *influxdb.Client
	api     *api.Server
}

// openHistory opens the run database and applies migrations.
func openHistory(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, *history.SQLiteRepository, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, history.NewSQLiteRepository(db.DB), nil
}

// openServices connects every enabled backend and registers its lifecycle
// sink on fanout. Any enabled backend that fails to come up is fatal, so a
// run is never silently unrecorded.
func openServices(ctx context.Context, cfg *config.Config, log *logging.Logger, fanout *lifecycle.Fanout) (*services, error) {
	s := &services{cfg: cfg, log: log}

	if cfg.Database.Enabled {
		db, repo, err := openHistory(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db, s.history = db, repo
		fanout.Add("history", history.NewSink(repo))
		log.Debug("run history enabled", "path", db.Path())
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		s.mqtt = client
		client.SetLogger(log.Component("mqtt"))
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		fanout.Add("mqtt", mqtt.NewClientSink(client))
		log.Debug("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		s.influx = client
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		fanout.Add("influxdb", influxdb.NewEventSink(client))
		log.Debug("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	return s, nil
}

// attach exposes r through the control surfaces: MQTT stop requests and the
// HTTP API. The API hub joins fanout so WebSocket clients see every event.
func (s *services) attach(ctx context.Context, r *runner.Runner, stopSignal syscall.Signal, fanout *lifecycle.Fanout) error {
	if s.mqtt != nil {
		err := s.mqtt.SubscribeStopRequests(r.RunID(), func(req mqtt.StopRequest) {
			s.remoteStop(ctx, r, stopSignal, req)
		})
		if err != nil {
			return fmt.Errorf("subscribing to stop requests: %w", err)
		}
	}

	if s.cfg.API.Enabled {
		deps := api.Deps{
			Config:     s.cfg.API,
			WS:         s.cfg.WebSocket,
			Security:   s.cfg.Security,
			Logger:     s.log,
			Process:    r,
			StopSignal: stopSignal,
			Version:    version,
		}
		// Interface fields stay nil for disabled backends; a typed nil
		// pointer would pass the nil checks in the handlers.
		if s.history != nil {
			deps.History = s.history
		}
		if s.mqtt != nil {
			deps.MQTT = s.mqtt
		}
		if s.db != nil {
			deps.Database = s.db
		}

		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		s.api = srv
		fanout.Add("websocket", srv.Hub())
	}
	return nil
}

// remoteStop serves one MQTT stop request. An empty signal means the
// configured stop signal.
func (s *services) remoteStop(ctx context.Context, r *runner.Runner, fallback syscall.Signal, req mqtt.StopRequest) {
	sig := fallback
	if req.Signal != "" {
		parsed, err := process.ParseSignal(req.Signal)
		if err != nil {
			s.log.Warn("ignoring stop request", "run_id", req.RunID, "signal", req.Signal, "error", err)
			return
		}
		sig = parsed
	}

	stopCtx, cancel := context.WithTimeout(ctx, remoteStopTimeout)
	defer cancel()

	dispatched, err := r.RequestStop(stopCtx, sig)
	if err != nil {
		s.log.Warn("remote stop failed", "run_id", req.RunID, "error", err)
		return
	}
	s.log.Info("remote stop requested",
		"run_id", req.RunID,
		"signal", process.SignalName(sig),
		"dispatched", dispatched,
	)
}

// Close shuts down every open backend, newest first.
func (s *services) Close() {
	if s.api != nil {
		if err := s.api.Close(); err != nil {
			s.log.Error("error closing API server", "error", err)
		}
	}
	if s.influx != nil {
		s.influx.Flush()
		if err := s.influx.Close(); err != nil {
			s.log.Error("error closing InfluxDB", "error", err)
		}
	}
	if s.mqtt != nil {
		if err := s.mqtt.Close(); err != nil {
			s.log.Error("error closing MQTT", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("error closing database", "error", err)
		}
	}
}
