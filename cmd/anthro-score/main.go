// Command anthro-score scores a CSV/TSV measurement file offline and prints
// the batch outcome as JSON.
//
//	anthro-score -reference pack.yaml turma.csv
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/labstack/gommon/log"
	"github.com/peterbourgon/ff/v3"

	"github.com/ahrav/go-anthro/infrastructure/store"
	"github.com/ahrav/go-anthro/internal/application"
)

// errUsage is returned for command line mistakes.
var errUsage = errors.New("usage: anthro-score -reference pack.yaml [-config engine.yaml] [-out result.json] file.csv")

func run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	fs := flag.NewFlagSet("anthro-score", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		referencePath = fs.String("reference", "", "reference pack file, yaml format")
		configPath    = fs.String("config", "", "engine configuration file (optional), yaml format")
		outPath       = fs.String("out", "", "write the JSON outcome here instead of stdout")
		compact       = fs.Bool("compact", false, "emit compact JSON")
	)
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("ANTHRO")); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *referencePath == "" || fs.NArg() != 1 {
		return errUsage
	}
	input := fs.Arg(0)

	cfg := application.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = application.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	loader, err := application.NewReferenceLoader()
	if err != nil {
		return err
	}
	ref, err := loader.LoadFromFile(ctx, *referencePath)
	if err != nil {
		return err
	}
	refs, err := store.NewMemoryStore(ref.Points, ref.Rules)
	if err != nil {
		return err
	}

	engine, err := application.NewEngine(refs, refs, application.WithEngineConfig(cfg.Engine))
	if err != nil {
		return err
	}
	batch, err := application.NewBatchProcessor(engine, application.WithBatchConfig(cfg.Batch))
	if err != nil {
		return err
	}

	payload, err := os.ReadFile(filepath.Clean(input))
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	outcome, err := batch.Process(ctx, payload, filepath.Base(input))
	if err != nil {
		return err
	}
	logger.Infof("%s: %d rows, %d scored, %d errors",
		outcome.Filename, outcome.TotalRows, len(outcome.Results), len(outcome.Errors))

	w := stdout
	if *outPath != "" {
		f, err := os.Create(filepath.Clean(*outPath))
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(outcome)
}

func main() {
	logger := log.New("anthro-score")
	logger.SetOutput(os.Stderr)

	if err := run(context.Background(), os.Args[1:], os.Stdout, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}
