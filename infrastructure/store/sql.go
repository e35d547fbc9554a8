package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

// Driver selects the SQL backend.
type Driver string

// Supported drivers.
const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// SQLStore serves reference data from a SQL database. Unbounded rule
// limits are stored as NULL.
type SQLStore struct {
	db     *sql.DB
	driver Driver
}

var _ ports.ReferenceStore = (*SQLStore)(nil)

// Open connects to the database and ensures the schema exists.
// An empty dsn selects a local default for the driver.
func Open(ctx context.Context, driver Driver, dsn string) (*SQLStore, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:anthro.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/anthro?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", domain.ErrInvalidConfiguration, driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS reference_values (
  indicator TEXT NOT NULL,
  sex TEXT NOT NULL,
  age_months INTEGER NOT NULL,
  z_neg_3 REAL,
  z_neg_2 REAL,
  z_neg_1 REAL,
  z_0 REAL,
  z_pos_1 REAL,
  z_pos_2 REAL,
  z_pos_3 REAL,
  PRIMARY KEY (indicator, sex, age_months)
);

CREATE TABLE IF NOT EXISTS classification_rules (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  indicator TEXT NOT NULL,
  age_min_months INTEGER NOT NULL,
  age_max_months INTEGER NOT NULL,
  sex TEXT NOT NULL DEFAULT '', -- '' applies to both sexes
  z_min REAL,                   -- NULL is unbounded
  z_max REAL,
  label TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_indicator ON classification_rules (indicator, age_min_months, age_max_months);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS reference_values (
  indicator TEXT NOT NULL,
  sex TEXT NOT NULL,
  age_months INTEGER NOT NULL,
  z_neg_3 DOUBLE PRECISION,
  z_neg_2 DOUBLE PRECISION,
  z_neg_1 DOUBLE PRECISION,
  z_0 DOUBLE PRECISION,
  z_pos_1 DOUBLE PRECISION,
  z_pos_2 DOUBLE PRECISION,
  z_pos_3 DOUBLE PRECISION,
  PRIMARY KEY (indicator, sex, age_months)
);

CREATE TABLE IF NOT EXISTS classification_rules (
  id BIGSERIAL PRIMARY KEY,
  indicator TEXT NOT NULL,
  age_min_months INTEGER NOT NULL,
  age_max_months INTEGER NOT NULL,
  sex TEXT NOT NULL DEFAULT '',
  z_min DOUBLE PRECISION,
  z_max DOUBLE PRECISION,
  label TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_indicator ON classification_rules (indicator, age_min_months, age_max_months);
`

// ImportPack replaces the stored reference data with points and rules in a
// single transaction. Rules keep their slice order for tie-breaking.
func (s *SQLStore) ImportPack(ctx context.Context, points []domain.ReferencePoint, rules []domain.ClassificationRule) error {
	if overlaps := domain.FindRuleOverlaps(rules); len(overlaps) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrCorruptReference, overlaps[0])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reference_values`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM classification_rules`); err != nil {
		return err
	}

	for _, p := range points {
		if err := insertPoint(ctx, tx, p); err != nil {
			return err
		}
	}

	for i, r := range rules {
		_, err := tx.ExecContext(ctx, `
INSERT INTO classification_rules
  (indicator, age_min_months, age_max_months, sex, z_min, z_max, label)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(r.Indicator), r.AgeMinMonths, r.AgeMaxMonths, string(r.Sex),
			boundToNull(r.ZMin), boundToNull(r.ZMax), r.Label)
		if err != nil {
			return fmt.Errorf("insert rule %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// AddPoints inserts points whose (indicator, sex, age) key is not stored
// yet and leaves existing rows untouched. It reports how many were
// inserted and how many already existed.
func (s *SQLStore) AddPoints(ctx context.Context, points []domain.ReferencePoint) (inserted, existing int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range points {
		var one int
		err := tx.QueryRowContext(ctx, `
SELECT 1 FROM reference_values
WHERE indicator = $1 AND sex = $2 AND age_months = $3`,
			string(p.Indicator), string(p.Sex), p.AgeMonths).Scan(&one)
		if err == nil {
			existing++
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, 0, err
		}
		if err := insertPoint(ctx, tx, p); err != nil {
			return 0, 0, err
		}
		inserted++
	}
	return inserted, existing, tx.Commit()
}

func insertPoint(ctx context.Context, tx *sql.Tx, p domain.ReferencePoint) error {
	args := []any{string(p.Indicator), string(p.Sex), p.AgeMonths}
	for _, v := range p.Values {
		args = append(args, nullFloat(v))
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO reference_values
  (indicator, sex, age_months, z_neg_3, z_neg_2, z_neg_1, z_0, z_pos_1, z_pos_2, z_pos_3)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	if err != nil {
		return fmt.Errorf("insert reference point %s/%s/%d: %w", p.Indicator, p.Sex, p.AgeMonths, err)
	}
	return nil
}

// LookupReference implements ports.ReferenceLookup.
func (s *SQLStore) LookupReference(ctx context.Context, ind domain.Indicator, sex domain.Sex, ageMonths int) (domain.ReferencePoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT z_neg_3, z_neg_2, z_neg_1, z_0, z_pos_1, z_pos_2, z_pos_3
FROM reference_values
WHERE indicator = $1 AND sex = $2 AND age_months = $3`,
		string(ind), string(sex), ageMonths)

	var cols [7]sql.NullFloat64
	err := row.Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6])
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReferencePoint{}, false, nil
	}
	if err != nil {
		return domain.ReferencePoint{}, false, err
	}

	p := domain.ReferencePoint{Indicator: ind, Sex: sex, AgeMonths: ageMonths}
	for i, c := range cols {
		if c.Valid {
			v := c.Float64
			p.Values[i] = &v
		}
	}
	return p, true, nil
}

// Resolve implements ports.ClassificationResolver. Candidate rules are
// narrowed in SQL and the final choice follows domain.SelectRule.
func (s *SQLStore) Resolve(ctx context.Context, ind domain.Indicator, ageMonths int, sex domain.Sex, z float64) (string, bool, error) {
	rules, err := s.candidateRules(ctx, ind, ageMonths, sex)
	if err != nil {
		return "", false, err
	}
	r, ok := domain.SelectRule(rules, ind, ageMonths, sex, z)
	if !ok {
		return "", false, nil
	}
	return r.Label, true, nil
}

// Rules returns every stored rule in insertion order.
func (s *SQLStore) Rules(ctx context.Context) ([]domain.ClassificationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT indicator, age_min_months, age_max_months, sex, z_min, z_max, label
FROM classification_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

func (s *SQLStore) candidateRules(ctx context.Context, ind domain.Indicator, ageMonths int, sex domain.Sex) ([]domain.ClassificationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT indicator, age_min_months, age_max_months, sex, z_min, z_max, label
FROM classification_rules
WHERE indicator = $1 AND age_min_months <= $2 AND age_max_months >= $3 AND (sex = '' OR sex = $4)
ORDER BY id`,
		string(ind), ageMonths, ageMonths, string(sex))
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]domain.ClassificationRule, error) {
	defer rows.Close()
	var out []domain.ClassificationRule
	for rows.Next() {
		var (
			r          domain.ClassificationRule
			ind, sex   string
			zMin, zMax sql.NullFloat64
		)
		if err := rows.Scan(&ind, &r.AgeMinMonths, &r.AgeMaxMonths, &sex, &zMin, &zMax, &r.Label); err != nil {
			return nil, err
		}
		r.Indicator = domain.Indicator(ind)
		r.Sex = domain.Sex(sex)
		r.ZMin = nullToBound(zMin, math.Inf(-1))
		r.ZMax = nullToBound(zMax, math.Inf(1))
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boundToNull(v float64) sql.NullFloat64 {
	if math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullToBound(v sql.NullFloat64, unbounded float64) float64 {
	if !v.Valid {
		return unbounded
	}
	return v.Float64
}
