package application

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/testutils"
)

func newLoader(t *testing.T) *ReferenceLoader {
	t.Helper()
	rl, err := NewReferenceLoader()
	require.NoError(t, err)
	return rl
}

func TestReferenceLoader_FixturePack(t *testing.T) {
	rl := newLoader(t)
	ref, err := rl.LoadFromReader(context.Background(), strings.NewReader(testutils.ReferencePackYAML))
	require.NoError(t, err)

	assert.Equal(t, "fixture", ref.Name)
	assert.Equal(t, "1.0.0", ref.Version)
	assert.Len(t, ref.Hash, 64)

	wantPoints := testutils.Points()
	require.Len(t, ref.Points, len(wantPoints))
	for i, want := range wantPoints {
		got := ref.Points[i]
		assert.Equal(t, want.Indicator, got.Indicator)
		assert.Equal(t, want.Sex, got.Sex)
		assert.Equal(t, want.AgeMonths, got.AgeMonths)
		for j := range want.Values {
			if want.Values[j] == nil {
				assert.Nil(t, got.Values[j], "point %d value %d", i, j)
				continue
			}
			require.NotNil(t, got.Values[j], "point %d value %d", i, j)
			assert.InDelta(t, *want.Values[j], *got.Values[j], 1e-9)
		}
	}

	assert.Equal(t, testutils.Rules(), ref.Rules)
	assert.True(t, math.IsInf(ref.Rules[0].ZMin, -1))
}

func TestReferenceLoader_CachesEquivalentPacks(t *testing.T) {
	rl := newLoader(t)
	ctx := context.Background()

	a, err := rl.LoadFromReader(ctx, strings.NewReader(testutils.ReferencePackYAML))
	require.NoError(t, err)
	b, err := rl.LoadFromReader(ctx, strings.NewReader("# same pack, reformatted\n"+testutils.ReferencePackYAML+"\n\n"))
	require.NoError(t, err)
	assert.Same(t, a, b)

	rl.ClearCache()
	c, err := rl.LoadFromReader(ctx, strings.NewReader(testutils.ReferencePackYAML))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, a.Hash, c.Hash)
}

func TestReferenceLoader_ConcurrentLoads(t *testing.T) {
	rl := newLoader(t)
	var wg sync.WaitGroup
	results := make([]*ReferenceData, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := rl.LoadFromReader(context.Background(), strings.NewReader(testutils.ReferencePackYAML))
			assert.NoError(t, err)
			results[i] = ref
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestReferenceLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testutils.ReferencePackYAML), 0o600))

	ref, err := newLoader(t).LoadFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.Points)

	_, err = newLoader(t).LoadFromFile(context.Background(), path+".missing")
	assert.Error(t, err)
}

func TestReferenceLoader_Invalid(t *testing.T) {
	const header = "version: \"1.0.0\"\nmetadata:\n  name: bad\n"

	tests := []struct {
		name    string
		yaml    string
		errLike string
	}{
		{
			name:    "unknown field",
			yaml:    header + "pointz: []\n",
			errLike: "field pointz not found",
		},
		{
			name:    "bad version",
			yaml:    "version: one\nmetadata:\n  name: bad\n",
			errLike: "semver",
		},
		{
			name:    "unknown indicator",
			yaml:    header + "points:\n  - {indicator: head_circumference, sex: M, age_months: 1, values: [1,2,3,4,5,6,7]}\n",
			errLike: "indicator",
		},
		{
			name:    "wrong value count",
			yaml:    header + "points:\n  - {indicator: weight_for_age, sex: M, age_months: 1, values: [1,2,3]}\n",
			errLike: "len",
		},
		{
			name: "duplicate point",
			yaml: header + "points:\n" +
				"  - {indicator: weight_for_age, sex: M, age_months: 1, values: [1,2,3,4,5,6,7]}\n" +
				"  - {indicator: weight_for_age, sex: M, age_months: 1, values: [1,2,3,4,5,6,7]}\n",
			errLike: "duplicates point 0",
		},
		{
			name:    "decreasing values",
			yaml:    header + "points:\n  - {indicator: weight_for_age, sex: F, age_months: 1, values: [1,2,3,2,5,6,7]}\n",
			errLike: "decrease",
		},
		{
			name:    "inverted age range",
			yaml:    header + "rules:\n  - {indicator: weight_for_age, age_min_months: 10, age_max_months: 5, label: x}\n",
			errLike: "age_min_months > age_max_months",
		},
		{
			name:    "empty z interval",
			yaml:    header + "rules:\n  - {indicator: weight_for_age, age_min_months: 0, age_max_months: 5, z_min: 1, z_max: 1, label: x}\n",
			errLike: "empty Z interval",
		},
		{
			name: "overlapping rules",
			yaml: header + "rules:\n" +
				"  - {indicator: weight_for_age, age_min_months: 0, age_max_months: 60, z_max: -2, label: low}\n" +
				"  - {indicator: weight_for_age, age_min_months: 24, age_max_months: 120, z_min: -3, label: other}\n",
			errLike: "overlaps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newLoader(t).LoadFromReader(context.Background(), strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errLike)
		})
	}
}

func TestReferenceLoader_SexRestrictedRulesDoNotOverlap(t *testing.T) {
	yaml := "version: \"1.0.0\"\nmetadata:\n  name: split\nrules:\n" +
		"  - {indicator: height_for_age, age_min_months: 0, age_max_months: 60, sex: M, label: boys}\n" +
		"  - {indicator: height_for_age, age_min_months: 0, age_max_months: 60, sex: F, label: girls}\n"
	ref, err := newLoader(t).LoadFromReader(context.Background(), strings.NewReader(yaml))
	require.NoError(t, err)
	require.Len(t, ref.Rules, 2)
	assert.Equal(t, domain.SexMale, ref.Rules[0].Sex)
}
