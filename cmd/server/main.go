package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchcore/api/ops"
	"matchcore/command"
	"matchcore/config"
	"matchcore/domain"
	"matchcore/infra/kafka"
	"matchcore/infra/sequence"
	entrywal "matchcore/infra/wal/entry"
	exitwal "matchcore/infra/wal/exit"
	"matchcore/jobs/broadcaster"
	"matchcore/jobs/snapshotter"
	"matchcore/logger"
	"matchcore/memory"
	"matchcore/pipeline"
	"matchcore/service"
	"matchcore/snapshot"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env")
	}

	// ---------------- Config ----------------

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output,
		cfg.Logging.MaxSize, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("logger configure failed")
	}
	policy, err := pipeline.ParsePolicy(cfg.Engine.AdmissionPolicy)
	if err != nil {
		log.WithError(err).Fatal("admission policy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------------- Entry WAL ----------------

	entryWAL, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.WAL.Dir,
		SegmentSize:     cfg.WAL.SegmentSize,
		SegmentDuration: cfg.WAL.SegmentDuration,
		Sync:            cfg.WAL.Sync,
	})
	if err != nil {
		log.WithError(err).Fatal("entry WAL init failed")
	}
	commandLog := entrywal.NewCommandLog(entryWAL)
	defer commandLog.Close()

	// ---------------- Exit WAL ----------------

	outbox, err := exitwal.Open(cfg.Outbox.Dir)
	if err != nil {
		log.WithError(err).Fatal("outbox init failed")
	}
	defer outbox.Close()

	// ---------------- Snapshots ----------------

	backend, err := openSnapshotBackend(ctx, cfg.Snapshot)
	if err != nil {
		log.WithError(err).Fatal("snapshot store init failed")
	}
	store := snapshot.NewStore(backend)
	defer store.Close()

	snaps := snapshotter.New(snapshotter.Config{Keep: cfg.Snapshot.Keep}, store, log).
		WithTruncation(commandLog, outbox)

	// ---------------- Engine ----------------

	mem := memory.NewManager()
	engineOpts := []service.Option{service.WithSnapshotSink(snaps)}
	sink, err := openSink(cfg.Publisher)
	if err != nil {
		log.WithError(err).Fatal("publisher init failed")
	}
	if sink != nil {
		engineOpts = append(engineOpts, service.WithEgress(outbox))
	}
	engine := service.NewEngine(mem, log, engineOpts...)

	// ---------------- Pipeline ----------------

	pipe := pipeline.New(pipeline.Config{
		QueueSize: cfg.Engine.QueueSize,
		Policy:    policy,
		RateLimit: cfg.Engine.RateLimit,
		RateBurst: cfg.Engine.RateBurst,
	}, engine, sequence.New(0), log,
		pipeline.WithCommandLog(commandLog),
		pipeline.WithStats(mem.Stats),
	)

	// ---------------- Recovery ----------------

	report, err := service.Recover(ctx, engine, store, commandLog, pipe)
	if err != nil {
		log.WithError(err).Fatal("recovery failed")
	}
	missing := missingSymbols(mem, cfg)

	pipe.Start()
	for _, sym := range missing {
		res, err := pipe.Execute(ctx, command.AddSymbol{Symbol: sym}, "seed-"+uuid.NewString())
		if err != nil {
			log.WithError(err).Fatal("seed symbol failed")
		}
		if res.Reject != nil {
			log.WithField("symbol", sym.ID).WithField("reason", res.Reject.Reason).Warn("seed symbol rejected")
		}
	}
	log.WithFields(logger.Fields{
		"snapshot_id": report.SnapshotID,
		"last_id":     report.LastID,
		"seeded":      len(missing),
	}).Info("engine ready")

	// ---------------- Background Jobs ----------------

	var bc *broadcaster.Broadcaster
	if sink != nil {
		bc = broadcaster.New(outbox, sink, log,
			broadcaster.WithInterval(cfg.Publisher.PollInterval),
			broadcaster.WithBatch(cfg.Publisher.Batch),
		)
		bc.Start(ctx)
	}

	snaps.Start(ctx)
	if cfg.Snapshot.Interval > 0 {
		snaps.Schedule(ctx, pipe, cfg.Snapshot.Interval)
	}

	// ---------------- Ops ----------------

	httpSrv := &http.Server{
		Addr:         cfg.Ops.HTTPAddr,
		Handler:      ops.NewRouter(pipe, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.Ops.HTTPAddr).Info("ops http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("ops http exited")
		}
	}()

	health := ops.NewHealth(pipe)
	var grpcSrv *grpc.Server
	if cfg.Ops.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Ops.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen failed")
		}
		grpcSrv = grpc.NewServer()
		health.Register(grpcSrv)
		go health.Watch(ctx, time.Second)
		go func() {
			log.WithField("addr", cfg.Ops.GRPCAddr).Info("grpc health listening")
			if err := grpcSrv.Serve(lis); err != nil {
				log.WithError(err).Error("grpc server exited")
			}
		}()
	}

	// ---------------- Shutdown ----------------

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", sig.String()).Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := pipe.Stop(stopCtx); err != nil {
		log.WithError(err).Error("pipeline drain incomplete")
	}
	health.Sync()

	if err := httpSrv.Shutdown(stopCtx); err != nil {
		log.WithError(err).Error("ops http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	cancel()
	snaps.Wait()
	if bc != nil {
		if err := bc.Close(); err != nil {
			log.WithError(err).Error("publisher close")
		}
	}
	log.Info("stopped")
}

func openSnapshotBackend(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Backend, error) {
	switch cfg.Store {
	case "file":
		return snapshot.NewFileBackend(cfg.Dir)
	case "pebble":
		return snapshot.OpenPebbleBackend(cfg.Dir)
	case "redis":
		rb := snapshot.NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rb.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return rb, nil
	case "s3":
		return snapshot.NewS3Backend(ctx, snapshot.S3Options{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown snapshot store %q", cfg.Store)
	}
}

func openSink(cfg config.PublisherConfig) (kafka.Sink, error) {
	switch cfg.Driver {
	case "sarama":
		return kafka.NewSaramaSink(cfg.Brokers, cfg.Topic)
	case "kafka-go":
		return kafka.NewWriterSink(cfg.Brokers, cfg.Topic), nil
	default:
		return nil, nil
	}
}

// missingSymbols lists configured symbols the recovered state lacks. Must run
// before the pipeline starts.
func missingSymbols(mem *memory.Manager, cfg *config.Config) []domain.Symbol {
	var out []domain.Symbol
	for _, s := range cfg.Symbols {
		if _, ok := mem.Symbol(s.ID); !ok {
			out = append(out, s)
		}
	}
	return out
}
