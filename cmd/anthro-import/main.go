// Command anthro-import loads published reference tables into a SQL
// reference store. Each file carries a -3..3 header followed by one row per
// month of age starting at -start-age.
//
//	anthro-import -db-driver sqlite -indicator weight_for_age -sex M -start-age 0 pi_m_0a59m.csv
//
// Rows already stored for the same indicator, sex and age are kept.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/labstack/gommon/log"
	"github.com/peterbourgon/ff/v3"

	"github.com/ahrav/go-anthro/infrastructure/store"
	"github.com/ahrav/go-anthro/internal/domain"
)

var errUsage = errors.New("usage: anthro-import [-db-driver sqlite|postgres] [-db-dsn dsn] -indicator name -sex M|F [-start-age n] table.csv...")

func run(ctx context.Context, args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("anthro-import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		dbDriver  = fs.String("db-driver", string(store.DriverSQLite), "reference backend: sqlite or postgres")
		dbDSN     = fs.String("db-dsn", "", "database DSN, leave blank for the driver default")
		indicator = fs.String("indicator", "", "indicator of the tables: weight_for_age, height_for_age or bmi_for_age")
		sex       = fs.String("sex", "", "sex of the tables: M or F")
		startAge  = fs.Int("start-age", 0, "age in months of the first data row")
	)
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("ANTHRO")); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 || *startAge < 0 {
		return errUsage
	}
	ind, sx := domain.Indicator(*indicator), domain.Sex(*sex)
	if !ind.Valid() || !sx.Valid() {
		return fmt.Errorf("%w: indicator %q sex %q", errUsage, *indicator, *sex)
	}

	s, err := store.Open(ctx, store.Driver(*dbDriver), *dbDSN)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, path := range fs.Args() {
		if err := importFile(ctx, s, path, ind, sx, *startAge, logger); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func importFile(ctx context.Context, s *store.SQLStore, path string, ind domain.Indicator, sex domain.Sex, startAge int, logger *log.Logger) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer f.Close()

	points, report, err := store.ReadReferenceCSV(f, ind, sex, startAge)
	if err != nil {
		return err
	}
	if report.HeaderMismatch {
		logger.Warnf("%s: unexpected header, expected -3,-2,-1,0,1,2,3", path)
	}
	for _, line := range report.Skipped {
		logger.Warnf("%s: line %d is malformed, skipped", path, line)
	}

	inserted, existing, err := s.AddPoints(ctx, points)
	if err != nil {
		return err
	}
	logger.Infof("%s: %s/%s from %d months: %d inserted, %d already present, %d malformed",
		path, ind, sex, startAge, inserted, existing, len(report.Skipped))
	return nil
}

func main() {
	logger := log.New("anthro-import")
	if err := run(context.Background(), os.Args[1:], logger); err != nil {
		logger.Fatalf("%v", err)
	}
}
