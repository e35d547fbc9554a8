package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-anthro/internal/domain"
)

// ReferencePack is the declarative YAML form of a reference data set: the
// reference distributions per indicator, sex and age, and the
// classification rules that turn Z-scores into nutritional status labels.
type ReferencePack struct {
	// Version is the pack schema version in X.Y.Z form.
	Version string `yaml:"version" validate:"required,semver"`
	// Metadata describes where the tables came from.
	Metadata PackMetadata `yaml:"metadata" validate:"required"`
	// Points are the reference distributions.
	Points []PointConfig `yaml:"points" validate:"dive"`
	// Rules are the classification rules, in priority order for ties.
	Rules []RuleConfig `yaml:"rules" validate:"dive"`
}

// PackMetadata provides descriptive information about a reference pack.
type PackMetadata struct {
	// Name identifies the pack, e.g. "who-2006-2007".
	Name string `yaml:"name" validate:"required,min=1,max=255"`
	// Description is free text for operators.
	Description string `yaml:"description" validate:"max=1000"`
	// Source cites the publication the tables were transcribed from.
	Source string `yaml:"source" validate:"max=255"`
}

// PointConfig is one reference row. Values lists the measurement at
// Z = -3..+3; null marks a column the source table does not provide.
type PointConfig struct {
	Indicator domain.Indicator `yaml:"indicator" validate:"required,indicator"`
	Sex       domain.Sex       `yaml:"sex" validate:"required,oneof=M F"`
	AgeMonths int              `yaml:"age_months" validate:"min=0,max=240"`
	Values    []*float64       `yaml:"values" validate:"len=7"`
}

// RuleConfig is one classification rule. A missing z_min or z_max means
// unbounded on that side; .inf and -.inf are accepted too.
type RuleConfig struct {
	Indicator    domain.Indicator `yaml:"indicator" validate:"required,indicator"`
	AgeMinMonths int              `yaml:"age_min_months" validate:"min=0"`
	AgeMaxMonths int              `yaml:"age_max_months" validate:"min=0"`
	Sex          domain.Sex       `yaml:"sex,omitempty" validate:"omitempty,oneof=M F"`
	ZMin         *float64         `yaml:"z_min,omitempty"`
	ZMax         *float64         `yaml:"z_max,omitempty"`
	Label        string           `yaml:"label" validate:"required,max=255"`
}

// ReferenceData is a compiled, validated reference pack.
// WARNING: ReferenceData values are shared through the loader cache and
// MUST NOT be mutated.
type ReferenceData struct {
	Name    string
	Version string
	// Hash is the SHA-256 of the normalized pack.
	Hash   string
	Points []domain.ReferencePoint
	Rules  []domain.ClassificationRule
}

// ReferenceLoader parses, validates and caches reference packs.
// Identical packs, even when formatted differently, compile once.
type ReferenceLoader struct {
	validator *validator.Validate
	// cache maps the SHA-256 of a normalized pack to its compiled form.
	cache   map[string]*ReferenceData
	cacheMu sync.RWMutex
	sf      singleflight.Group
}

// NewReferenceLoader creates a loader with the pack validators registered.
func NewReferenceLoader() (*ReferenceLoader, error) {
	v := validator.New()
	if err := registerPackValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return &ReferenceLoader{
		validator: v,
		cache:     make(map[string]*ReferenceData),
	}, nil
}

// LoadFromFile loads a reference pack from a YAML file.
func (rl *ReferenceLoader) LoadFromFile(ctx context.Context, path string) (*ReferenceData, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return rl.load(ctx, data)
}

// LoadFromReader loads a reference pack from r.
func (rl *ReferenceLoader) LoadFromReader(ctx context.Context, r io.Reader) (*ReferenceData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return rl.load(ctx, data)
}

func (rl *ReferenceLoader) load(ctx context.Context, data []byte) (*ReferenceData, error) {
	pack, err := rl.parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	hash, err := packHash(pack)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	v, err, _ := rl.sf.Do(hash, func() (any, error) {
		if ref, ok := rl.cached(hash); ok {
			return ref, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := rl.validatePack(pack); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		ref := compilePack(pack, hash)
		rl.store(hash, ref)
		return ref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ReferenceData), nil
}

// parseYAML decodes in strict mode so typos in keys are not silently
// ignored.
func (rl *ReferenceLoader) parseYAML(data []byte) (*ReferencePack, error) {
	var pack ReferencePack
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&pack); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &pack, nil
}

func (rl *ReferenceLoader) validatePack(pack *ReferencePack) error {
	if err := rl.validator.Struct(pack); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	if err := validatePackSemantics(pack); err != nil {
		return fmt.Errorf("semantic validation failed: %w", err)
	}
	return nil
}

// validatePackSemantics checks what struct tags cannot: unique point keys,
// well-formed ranges, ordered reference values and non-overlapping rules.
func validatePackSemantics(pack *ReferencePack) error {
	verr := domain.NewValidationError("reference pack")

	type key struct {
		ind domain.Indicator
		sex domain.Sex
		age int
	}
	seen := make(map[key]int, len(pack.Points))
	for i, p := range pack.Points {
		k := key{p.Indicator, p.Sex, p.AgeMonths}
		if j, dup := seen[k]; dup {
			verr.AddError(fmt.Sprintf("point %d duplicates point %d (%s %s %d)", i, j, p.Indicator, p.Sex, p.AgeMonths))
			continue
		}
		seen[k] = i

		prev, have := 0.0, false
		for _, v := range p.Values {
			if v == nil {
				continue
			}
			if math.IsNaN(*v) || math.IsInf(*v, 0) {
				verr.AddError(fmt.Sprintf("point %d has a non-finite value", i))
				break
			}
			if have && *v < prev {
				verr.AddError(fmt.Sprintf("point %d values decrease with Z", i))
				break
			}
			prev, have = *v, true
		}
	}

	rules := make([]domain.ClassificationRule, 0, len(pack.Rules))
	for i, r := range pack.Rules {
		cr := r.toDomain()
		if r.AgeMinMonths > r.AgeMaxMonths {
			verr.AddError(fmt.Sprintf("rule %d has age_min_months > age_max_months", i))
		}
		if !(cr.ZMin < cr.ZMax) {
			verr.AddError(fmt.Sprintf("rule %d has an empty Z interval [%g, %g)", i, cr.ZMin, cr.ZMax))
		}
		rules = append(rules, cr)
	}
	for _, msg := range domain.FindRuleOverlaps(rules) {
		verr.AddError(msg)
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

func (r RuleConfig) toDomain() domain.ClassificationRule {
	zMin, zMax := math.Inf(-1), math.Inf(1)
	if r.ZMin != nil {
		zMin = *r.ZMin
	}
	if r.ZMax != nil {
		zMax = *r.ZMax
	}
	return domain.ClassificationRule{
		Indicator:    r.Indicator,
		AgeMinMonths: r.AgeMinMonths,
		AgeMaxMonths: r.AgeMaxMonths,
		Sex:          r.Sex,
		ZMin:         zMin,
		ZMax:         zMax,
		Label:        strings.TrimSpace(r.Label),
	}
}

func compilePack(pack *ReferencePack, hash string) *ReferenceData {
	ref := &ReferenceData{
		Name:    pack.Metadata.Name,
		Version: pack.Version,
		Hash:    hash,
		Points:  make([]domain.ReferencePoint, 0, len(pack.Points)),
		Rules:   make([]domain.ClassificationRule, 0, len(pack.Rules)),
	}
	for _, p := range pack.Points {
		rp := domain.ReferencePoint{Indicator: p.Indicator, Sex: p.Sex, AgeMonths: p.AgeMonths}
		for i, v := range p.Values {
			if v != nil {
				val := *v
				rp.Values[i] = &val
			}
		}
		ref.Points = append(ref.Points, rp)
	}
	for _, r := range pack.Rules {
		ref.Rules = append(ref.Rules, r.toDomain())
	}
	return ref
}

// packHash hashes the re-encoded pack so whitespace, comments and key order
// do not affect cache identity.
func packHash(pack *ReferencePack) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(pack); err != nil {
		return "", fmt.Errorf("failed to encode pack for hashing: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (rl *ReferenceLoader) cached(hash string) (*ReferenceData, bool) {
	rl.cacheMu.RLock()
	defer rl.cacheMu.RUnlock()
	ref, ok := rl.cache[hash]
	return ref, ok
}

func (rl *ReferenceLoader) store(hash string, ref *ReferenceData) {
	rl.cacheMu.Lock()
	defer rl.cacheMu.Unlock()
	rl.cache[hash] = ref
}

// ClearCache drops every compiled pack.
func (rl *ReferenceLoader) ClearCache() {
	rl.cacheMu.Lock()
	defer rl.cacheMu.Unlock()
	rl.cache = make(map[string]*ReferenceData)
}

func registerPackValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return fmt.Errorf("failed to register semver validator: %w", err)
	}
	if err := v.RegisterValidation("indicator", validateIndicator); err != nil {
		return fmt.Errorf("failed to register indicator validator: %w", err)
	}
	return nil
}

// validateSemver accepts X.Y.Z where each part is a non-negative integer.
func validateSemver(fl validator.FieldLevel) bool {
	var major, minor, patch int
	n, err := fmt.Sscanf(fl.Field().String(), "%d.%d.%d", &major, &minor, &patch)
	return err == nil && n == 3 && major >= 0 && minor >= 0 && patch >= 0
}

func validateIndicator(fl validator.FieldLevel) bool {
	return domain.Indicator(fl.Field().String()).Valid()
}
