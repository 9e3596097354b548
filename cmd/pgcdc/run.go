package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nodalflow/pgcdc/pkg/cdcevent"
	"github.com/nodalflow/pgcdc/pkg/config"
	"github.com/nodalflow/pgcdc/pkg/consumer"
	"github.com/nodalflow/pgcdc/pkg/consumer/clickhouse"
	"github.com/nodalflow/pgcdc/pkg/consumer/debug"
	"github.com/nodalflow/pgcdc/pkg/consumer/kafka"
	"github.com/nodalflow/pgcdc/pkg/consumer/mqtt"
	"github.com/nodalflow/pgcdc/pkg/consumer/nats"
	"github.com/nodalflow/pgcdc/pkg/metrics"
	pgxmanager "github.com/nodalflow/pgcdc/pkg/pgx"
	"github.com/nodalflow/pgcdc/pkg/replication"
	"github.com/nodalflow/pgcdc/pkg/sourcedb"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start streaming change events to the configured sink",
	RunE:  runRun,
}

func buildConsumer(ctx context.Context, sc config.SinkConfig, logger *zap.Logger, resolver *sourcedb.Handler) (replication.Consumer, func(), error) {
	switch sc.Name {
	case "", "debug":
		return debug.New(logger, resolver), func() {}, nil

	case "kafka":
		c, err := kafka.New(kafka.Config{
			Brokers:   sc.Kafka.Brokers,
			Topic:     sc.Kafka.Topic,
			UserName:  sc.Kafka.Username,
			Password:  sc.Kafka.Password,
			Algorithm: sc.Kafka.Algorithm,
			UseTLS:    sc.Kafka.UseTLS,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil

	case "clickhouse":
		c, err := clickhouse.New(clickhouse.Config{
			Addr:      sc.ClickHouse.Addr,
			Database:  sc.ClickHouse.Database,
			Username:  sc.ClickHouse.Username,
			Password:  sc.ClickHouse.Password,
			DestTable: sc.ClickHouse.DestTable,
			UseTLS:    sc.ClickHouse.UseTLS,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil

	case "mqtt":
		c, err := mqtt.New(mqtt.Config{
			Broker:      sc.MQTT.Broker,
			Username:    sc.MQTT.Username,
			Password:    sc.MQTT.Password,
			ClientID:    sc.MQTT.ClientID,
			TopicPrefix: sc.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil

	case "nats":
		c, err := nats.New(nats.Config{
			URL:           sc.NATS.URL,
			SubjectPrefix: sc.NATS.SubjectPrefix,
			Credentials:   sc.NATS.Credentials,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}

	return nil, nil, fmt.Errorf("run: unknown sink %q (available: %v)", sc.Name, append(consumer.Names(), "kafka", "clickhouse", "mqtt", "nats", "debug"))
}

func runRun(cmd *cobra.Command, args []string) error {
	if cfg.Source.DSN == "" {
		return fmt.Errorf("source.dsn is not set")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("run: build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		var wg sync.WaitGroup
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.Metrics.ListenAddr, Path: "/metrics"})
	}

	// The pool manager keeps the source's ordinary SQL pool under a name
	// distinct from the replication connection (which replication.Session
	// opens itself with pgconn.Connect), leaving room to register additional named pools
	// (e.g. a lookup database for enrichment) without restructuring run().
	pools := pgxmanager.NewPoolManager()
	if err := pools.Add(ctx, pgxmanager.Pool{Name: "source", ConnString: cfg.Source.DSN}, true); err != nil {
		return fmt.Errorf("run: add source pool: %w", err)
	}
	defer pools.Close()

	sourcePool, err := pools.Active()
	if err != nil {
		return fmt.Errorf("run: get source pool: %w", err)
	}
	resolver := sourcedb.New(sourcePool)

	sink, closeSink, err := buildConsumer(ctx, cfg.Sink, logger, resolver)
	if err != nil {
		return err
	}
	defer closeSink()

	database := cfg.Source.Database
	if database == "" {
		if parsed, err := pgconn.ParseConfig(cfg.Source.DSN); err == nil {
			database = parsed.Database
		}
	}

	var startLSN cdcevent.LSN
	if cfg.Source.StartLSN != "" {
		parsed, err := pglogrepl.ParseLSN(cfg.Source.StartLSN)
		if err != nil {
			return fmt.Errorf("run: parse source.startLSN: %w", err)
		}
		startLSN = cdcevent.LSN(parsed)
	}

	session := replication.NewSession(replication.Config{
		DSN:             cfg.Source.DSN,
		Database:        database,
		PublicationName: cfg.Source.PublicationName,
		SlotName:        cfg.Source.SlotName,
		StartLSN:        startLSN,
	}, sink, resolver, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received termination signal, shutting down")
		cancel()
	}()

	return runWithBackoff(ctx, logger, session)
}

// runWithBackoff retries session.Run against transport failures with an
// exponential backoff: the core does not retry network errors itself, so
// the reconnect policy lives here, at the caller. A nil return (clean Stop),
// an error that is not a *replication.TransportError, or a cancelled ctx
// (operator-requested shutdown) ends the loop without retrying.
func runWithBackoff(ctx context.Context, logger *zap.Logger, session *replication.Session) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := session.Run(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		var transportErr *replication.TransportError
		if !errors.As(err, &transportErr) {
			return err
		}

		wait := bo.NextBackOff()
		logger.Warn("replication session exited, reconnecting",
			zap.Error(err), zap.Duration("backoff", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
