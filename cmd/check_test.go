package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Carmen-Shannon/oxy-fluid/config"
)

const (
	computeSrc  = "@compute @workgroup_size(32, 32, 1)\nfn main(@builtin(global_invocation_id) id: vec3<u32>) {\n}\n"
	vertexSrc   = "@vertex\nfn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {\n    return vec4<f32>(0.0, 0.0, 0.0, 1.0);\n}\n"
	fragmentSrc = "@fragment\nfn fs_main() -> @location(0) vec4<f32> {\n    return vec4<f32>(1.0, 1.0, 1.0, 1.0);\n}\n"
)

func shaderConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Shaders.Dir = t.TempDir()
	files := map[string]string{
		cfg.Shaders.Jacobi:         computeSrc,
		cfg.Shaders.Advect:         computeSrc,
		cfg.Shaders.Inject:         computeSrc,
		cfg.Shaders.Particles:      computeSrc,
		cfg.Shaders.RenderVertex:   vertexSrc,
		cfg.Shaders.RenderFragment: fragmentSrc,
		cfg.Shaders.FadeVertex:     vertexSrc,
		cfg.Shaders.FadeFragment:   fragmentSrc,
	}
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Shaders.Dir, name), []byte(src), 0o644))
	}
	return cfg
}

func TestCheck_AllProgramsCompile(t *testing.T) {
	cfg := shaderConfig(t)
	core, logs := observer.New(zap.InfoLevel)

	require.NoError(t, check(cfg, zap.New(core)))
	assert.Equal(t, 6, logs.FilterMessage("program ok").Len())
}

func TestCheck_ReportsEveryFailure(t *testing.T) {
	cfg := shaderConfig(t)
	require.NoError(t, os.WriteFile(cfg.Shaders.Path(cfg.Shaders.Jacobi), []byte("fn main( {"), 0o644))
	require.NoError(t, os.Remove(cfg.Shaders.Path(cfg.Shaders.RenderFragment)))
	core, logs := observer.New(zap.InfoLevel)

	err := check(cfg, zap.New(core))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 6")

	failures := logs.FilterMessage("program check failed").All()
	require.Len(t, failures, 2)
	assert.Equal(t, "jacobi", failures[0].ContextMap()["program"])
	assert.Equal(t, "render", failures[1].ContextMap()["program"])
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
