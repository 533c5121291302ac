package plan

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgeworks/stampede/pkg/types"
)

func validInput() Input {
	return Input{
		TargetURL:     "https://example.com",
		TestKind:      types.TestKindProtocol,
		TotalVUs:      50,
		Duration:      "2m",
		PerWorkerVUs:  10,
		Registry:      "registry.example.com/loadtest",
		BlobNamespace: "results-bucket",
	}
}

func TestCompileValid(t *testing.T) {
	p, err := Compile(validInput())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, p.Duration)
	assert.Equal(t, "2m", p.DurationSpec)
	assert.Equal(t, 50, p.TotalVUs)
	assert.Equal(t, "registry.example.com/loadtest/k6-worker:latest", p.WorkerImageRef)
	assert.Equal(t, types.WorkerResources{CPUCores: 1.0, MemoryGiB: 2.0}, p.WorkerResources)
}

func TestCompileBrowserDefaults(t *testing.T) {
	in := validInput()
	in.TestKind = types.TestKindBrowser

	p, err := Compile(in)
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/loadtest/k6-browser-worker:latest", p.WorkerImageRef)
	assert.Equal(t, types.WorkerResources{CPUCores: 2.0, MemoryGiB: 4.0}, p.WorkerResources)
}

func TestCompileExplicitOverrides(t *testing.T) {
	in := validInput()
	in.ImageRef = "custom/worker:v2"
	in.Resources = &types.WorkerResources{CPUCores: 4, MemoryGiB: 8}

	p, err := Compile(in)
	require.NoError(t, err)
	assert.Equal(t, "custom/worker:v2", p.WorkerImageRef)
	assert.Equal(t, types.WorkerResources{CPUCores: 4, MemoryGiB: 8}, p.WorkerResources)
}

func TestCompileCollectsAllViolations(t *testing.T) {
	in := Input{
		TargetURL:    "not a url",
		TestKind:     "chaos",
		TotalVUs:     0,
		Duration:     "2 minutes",
		PerWorkerVUs: 0,
	}

	_, err := Compile(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidPlan))

	var ipe *types.InvalidPlanError
	require.True(t, errors.As(err, &ipe))
	assert.GreaterOrEqual(t, len(ipe.Violations), 5)
}

func TestCompileRejectsNonHTTPTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		ok     bool
	}{
		{"https", "https://example.com", true},
		{"http", "http://example.com:8080/path", true},
		{"ftp scheme", "ftp://example.com/path", false},
		{"ws scheme", "ws://example.com/socket", false},
		{"no scheme", "example.com", false},
		{"bare words", "not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			in.TargetURL = tt.target
			_, err := Compile(in)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidPlan))

			var ipe *types.InvalidPlanError
			require.True(t, errors.As(err, &ipe))
			assert.Contains(t, strings.Join(ipe.Violations, "; "), "http(s)")
		})
	}
}

func TestCompileDurationForms(t *testing.T) {
	tests := []struct {
		spec string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"1m", time.Minute, true},
		{"2h", 2 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"90", 0, false},
		{"1.5m", 0, false},
		{"m", 0, false},
		{"-1m", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			in := validInput()
			in.Duration = tt.spec
			p, err := Compile(in)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.want, p.Duration)
			} else {
				assert.True(t, errors.Is(err, types.ErrInvalidPlan))
			}
		})
	}
}

func TestNewRunIDShape(t *testing.T) {
	re := regexp.MustCompile(`^run_\d{8}_\d{6}_[0-9a-f]{6}$`)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id := NewRunID()
		assert.Regexp(t, re, id)
		assert.False(t, seen[id], "run ids must not repeat")
		seen[id] = true
	}
}
