package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/livestore/admin"
	"github.com/maxpert/livestore/cfg"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/livequery"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/publisher"
	_ "github.com/maxpert/livestore/publisher/sink"
	_ "github.com/maxpert/livestore/publisher/transformer"
	"github.com/maxpert/livestore/query"
	"github.com/maxpert/livestore/store"
	"github.com/maxpert/livestore/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Livestore - reactive SQLite entity store")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	model, err := cfg.Config.BuildModel()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid entity model")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, model, store.OptionsFromConfig(cfg.Config))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
		return
	}

	var (
		pub         *publisher.Registry
		unsubscribe = func() {}
		sinks       admin.SinkInspector
	)
	if cfg.Config.Publisher.Enabled {
		pub, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:     cfg.Config.DataDir,
			InstanceID:  strconv.FormatUint(cfg.Config.InstanceID, 10),
			Schemas:     publisher.ModelSchemas{Model: model},
			SinkConfigs: cfg.Config.Publisher.Sinks,
		})
		if err != nil {
			closeStore(st)
			log.Fatal().Err(err).Msg("Failed to create CDC publisher")
			return
		}
		unsubscribe = st.Subscribe("publisher", pub, notify.Filter{})
		if err := pub.Start(); err != nil {
			unsubscribe()
			pub.Stop()
			closeStore(st)
			log.Fatal().Err(err).Msg("Failed to start CDC publisher")
			return
		}
		sinks = pub
	}

	var collector *telemetry.MetricsCollector
	if cfg.Config.Prometheus.Enabled {
		collector = telemetry.NewMetricsCollector(st, time.Duration(cfg.Config.Prometheus.CollectorIntervalMS)*time.Millisecond)
		collector.Start()
	}

	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
		adminServer, err = admin.Listen(addr, admin.NewRouter(admin.NewHandlers(st, sinks), cfg.Config.Admin.Secret))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		adminServer.Start()
	}

	var watch *livequery.LiveQuery
	if *cfg.WatchFlag != "" {
		watch, err = watchType(ctx, st, *cfg.WatchFlag, os.Stdout)
		if err != nil {
			log.Error().Err(err).Str("type", *cfg.WatchFlag).Msg("Failed to watch entity type")
		}
	}

	log.Info().
		Str("db", cfg.DBPath()).
		Int("entity_types", len(model.Types())).
		Bool("publisher", pub != nil).
		Msg("Livestore is operational")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	if watch != nil {
		st.Unsubscribe(watch)
	}
	if adminServer != nil {
		adminServer.Stop(5 * time.Second)
	}
	if collector != nil {
		collector.Stop()
	}

	// The publisher must stop receiving batches before its log closes
	unsubscribe()
	if pub != nil {
		pub.Stop()
	}
	closeStore(st)
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}
}

// watchType registers a live query over every record of an entity type and
// writes each result to out as one JSON line
func watchType(ctx context.Context, st *store.Store, entityType string, out io.Writer) (*livequery.LiveQuery, error) {
	enc := json.NewEncoder(out)
	emit := func(snap livequery.Snapshot) {
		rows := make([]map[string]any, len(snap.Records))
		for i, rec := range snap.Records {
			rows[i] = nativeValues(rec)
		}
		line := map[string]any{
			"query": snap.QueryID,
			"seq":   snap.Seq,
			"at":    snap.At,
			"type":  entityType,
			"rows":  rows,
		}
		if err := enc.Encode(line); err != nil {
			log.Warn().Err(err).Msg("Failed to write watch output")
		}
	}

	// The handler receives the initial snapshot too
	_, lq, err := st.SubscribeResult(ctx, query.From(entityType), livequery.HandlerFuncs{
		Result: emit,
		Error: func(err error) {
			log.Warn().Err(err).Str("type", entityType).Msg("Watch re-evaluation failed")
		},
	})
	if err != nil {
		return nil, err
	}
	return lq, nil
}

func nativeValues(rec *entity.Record) map[string]any {
	vals := rec.Values()
	out := make(map[string]any, len(vals))
	for name, v := range vals {
		out[name] = v.Native()
	}
	return out
}
