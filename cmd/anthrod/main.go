// Command anthrod serves the anthropometric scoring engine over HTTP.
//
// Every flag can also be set through an ANTHRO_ prefixed environment
// variable, e.g. ANTHRO_DB_DRIVER=sqlite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-anthro/infrastructure/httpapi"
	"github.com/ahrav/go-anthro/infrastructure/middleware"
	"github.com/ahrav/go-anthro/infrastructure/store"
	"github.com/ahrav/go-anthro/internal/application"
	"github.com/ahrav/go-anthro/internal/ports"
)

type options struct {
	addr          string
	configPath    string
	referencePath string
	dbDriver      string
	dbDSN         string
	importPack    bool
	uploadRate    float64
	uploadBurst   int
	maxUpload     int64
	logLevel      string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("anthrod", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.addr, "addr", ":8080", "listen address")
	fs.StringVar(&o.configPath, "config", "", "engine configuration file (optional), yaml format")
	fs.StringVar(&o.referencePath, "reference", "", "reference pack file, yaml format")
	fs.StringVar(&o.dbDriver, "db-driver", "memory", "reference backend: memory, sqlite or postgres")
	fs.StringVar(&o.dbDSN, "db-dsn", "", "database DSN, leave blank for the driver default")
	fs.BoolVar(&o.importPack, "import-pack", false, "replace the database reference tables with the pack before serving")
	fs.Float64Var(&o.uploadRate, "rate", float64(httpapi.DefaultUploadRate), "batch uploads per second, 0 disables throttling")
	fs.IntVar(&o.uploadBurst, "burst", httpapi.DefaultUploadBurst, "batch upload burst size")
	fs.Int64Var(&o.maxUpload, "max-upload", httpapi.DefaultMaxUploadBytes, "maximum batch upload size in bytes")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	_ = fs.String("flags", "", "flag file (optional), one flag per line")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("ANTHRO"),
		ff.WithConfigFileFlag("flags"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	return o, err
}

func logLevel(s string) log.Lvl {
	switch s {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// referenceBackend opens the store named by o.dbDriver. ref may be nil for
// SQL backends that already hold reference tables. The returned closer is
// never nil.
func referenceBackend(ctx context.Context, o options, ref *application.ReferenceData) (ports.ReferenceStore, io.Closer, error) {
	if o.dbDriver == "memory" {
		if ref == nil {
			return nil, nil, errors.New("-reference is required with the memory backend")
		}
		ms, err := store.NewMemoryStore(ref.Points, ref.Rules)
		if err != nil {
			return nil, nil, err
		}
		return ms, nopCloser{}, nil
	}

	sqlStore, err := store.Open(ctx, store.Driver(o.dbDriver), o.dbDSN)
	if err != nil {
		return nil, nil, err
	}
	if o.importPack {
		if ref == nil {
			_ = sqlStore.Close()
			return nil, nil, errors.New("-import-pack needs -reference")
		}
		if err := sqlStore.ImportPack(ctx, ref.Points, ref.Rules); err != nil {
			_ = sqlStore.Close()
			return nil, nil, fmt.Errorf("import reference pack: %w", err)
		}
	}
	return sqlStore, sqlStore, nil
}

// buildHandler wires the reference store, engine, batch processor and
// HTTP routes. The returned closer releases the reference backend.
func buildHandler(ctx context.Context, o options, logger *log.Logger) (http.Handler, io.Closer, error) {
	cfg := application.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = application.LoadConfig(o.configPath); err != nil {
			return nil, nil, err
		}
	}

	var ref *application.ReferenceData
	if o.referencePath != "" {
		loader, err := application.NewReferenceLoader()
		if err != nil {
			return nil, nil, err
		}
		if ref, err = loader.LoadFromFile(ctx, o.referencePath); err != nil {
			return nil, nil, err
		}
		logger.Infof("loaded reference pack %s %s (%d points, %d rules, hash %.12s)",
			ref.Name, ref.Version, len(ref.Points), len(ref.Rules), ref.Hash)
	}

	refs, closer, err := referenceBackend(ctx, o, ref)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewPrometheusMetrics(reg)
	if ref != nil {
		labels := map[string]string{"unit": o.dbDriver}
		metrics.RecordGauge("reference_points", float64(len(ref.Points)), labels)
		metrics.RecordGauge("classification_rules", float64(len(ref.Rules)), labels)
	}

	instrumented := middleware.NewInstrumentedStore(store.NewCachedStore(refs), metrics, o.dbDriver)
	engine, err := application.NewEngine(instrumented, instrumented,
		application.WithEngineConfig(cfg.Engine),
		application.WithMetrics(metrics),
	)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	batch, err := application.NewBatchProcessor(engine,
		application.WithBatchConfig(cfg.Batch),
		application.WithBatchMetrics(metrics),
	)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	srv, err := httpapi.NewServer(engine, batch,
		httpapi.WithLogger(logger),
		httpapi.WithGatherer(reg),
		httpapi.WithMaxUploadBytes(o.maxUpload),
		httpapi.WithUploadRate(rate.Limit(o.uploadRate), o.uploadBurst),
	)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return srv.Routes(), closer, nil
}

func run(ctx context.Context, args []string, logger *log.Logger) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel(o.logLevel))

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	handler, closer, err := buildHandler(setupCtx, o, logger)
	cancel()
	if err != nil {
		return err
	}
	defer closer.Close()

	srv := &http.Server{
		Addr:              o.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("anthrod listening on %s (backend=%s)", o.addr, o.dbDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("anthrod shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	logger := log.New("anthrod")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], logger); err != nil {
		logger.Fatalf("anthrod: %v", err)
	}
}
