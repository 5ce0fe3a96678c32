package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const docV1 = `
version: v1
per_market_rps:
  DE-H12: 30
price_bands:
  DE-H12:
    floor: -500
    ceil: 4000
tick_sizes:
  DE-H12: 0.01
`

const docV2 = `
version: v2
per_market_rps:
  DE-H12: 10
  NL-H12: 5
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestMissingSourceGivesEmptyPolicy(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "policy.yaml"), 0, nil)
	p := s.Current()
	assert.Equal(t, "empty", p.Version)
	assert.Equal(t, 120, p.Budget("DE-H12", 120))
}

func TestLoadAndBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, docV1)

	p := NewStore(path, 0, nil).Current()
	assert.Equal(t, "v1", p.Version)
	assert.Equal(t, 30, p.Budget("DE-H12", 120))
	assert.Equal(t, 120, p.Budget("FR-H12", 120))

	band, ok := p.PriceBand("DE-H12")
	require.True(t, ok)
	assert.Equal(t, "-500", band.Floor.String())
	tick, ok := p.TickSize("DE-H12")
	require.True(t, ok)
	assert.Equal(t, "0.01", tick.String())
}

func TestExplicitReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, docV1)
	s := NewStore(path, 0, nil)

	var seen []string
	s.OnChange(func(p *Policy) { seen = append(seen, p.Version) })

	writeFile(t, path, docV2)
	assert.Equal(t, "v1", s.Current().Version, "cached until reload")

	p, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, "v2", p.Version)
	assert.Equal(t, 5, s.Current().Budget("NL-H12", 120))
	assert.Equal(t, []string{"v2"}, seen)
}

func TestInvalidDocumentKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, docV1)
	s := NewStore(path, 0, nil)

	writeFile(t, path, "per_market_rps: [not, a, map")
	_, err := s.Reload()
	require.Error(t, err)
	assert.Equal(t, "v1", s.Current().Version)
}

func TestInvalidAtStartupDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, "per_market_rps:\n  DE-H12: -1\n")
	s := NewStore(path, 0, nil)
	assert.Equal(t, "empty", s.Current().Version)
}

func TestCheckIntervalDetectsModification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, docV1)
	s := NewStore(path, time.Minute, nil)

	clock := time.Now()
	s.now = func() time.Time { return clock }
	s.lastCheck.Store(clock.UnixNano())

	writeFile(t, path, docV2)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Equal(t, "v1", s.Current().Version)
	clock = clock.Add(time.Minute)
	assert.Equal(t, "v2", s.Current().Version)
}

func TestWatcherPicksUpChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, docV1)
	s := NewStore(path, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, docV2)
	assert.Eventually(t, func() bool {
		return s.Current().Version == "v2"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestParseDerivesVersion(t *testing.T) {
	p, err := Parse([]byte("per_market_rps:\n  A: 1\n"))
	require.NoError(t, err)
	assert.Contains(t, p.Version, "sha256:")

	_, err = Parse([]byte("price_bands:\n  A: {floor: 10, ceil: 1}\n"))
	assert.Error(t, err)
}
