package bootstrap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "rizo-card-bot/internal/platform/errors"
)

func writeStampAsset(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 212, G: 175, B: 55, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "foil.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func setTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("BOT_TOKEN", "123456:test-token")
	t.Setenv("OPENAI_API_KEYS", "key-one,key-two")
	t.Setenv("DATABASE_DSN", ":memory:")
	t.Setenv("LOG_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FOIL_STAMP_PATH", writeStampAsset(t))
	t.Setenv("SESSION_STORE", "memory")
	t.Setenv("RENDER_EXTERNAL_URL", "")
}

func TestInitGraph_DependenciesComeFirst(t *testing.T) {
	steps := InitGraph()
	require.NotEmpty(t, steps)

	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		_, duplicate := seen[step.ID]
		assert.False(t, duplicate, "duplicate step id %s", step.ID)

		for _, dep := range step.DependsOn {
			_, ok := seen[dep]
			assert.True(t, ok, "step %s depends on %s which is declared later", step.ID, dep)
		}
		seen[step.ID] = struct{}{}
	}

	assert.Equal(t, "config:load-runtime", steps[0].ID)
	assert.Equal(t, "services:init-card", steps[len(steps)-1].ID)
}

func TestExecuteInitSteps_RejectsUnsatisfiedDependency(t *testing.T) {
	steps := []initStep{
		{
			ID:        "second",
			DependsOn: []string{"first"},
			Execute:   func(context.Context, *appState) error { return nil },
		},
	}

	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))
	assert.Contains(t, err.Error(), "dependency first not satisfied")
}

func TestExecuteInitSteps_RequiresState(t *testing.T) {
	err := executeInitSteps(context.Background(), InitGraph(), nil)
	require.Error(t, err)
}

func TestExecuteInitSteps_WrapsStepFailure(t *testing.T) {
	steps := []initStep{
		{
			ID:   "boom",
			Kind: platformerrors.KindStorage,
			Execute: func(context.Context, *appState) error {
				return os.ErrPermission
			},
		},
	}

	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindStorage))
}

func TestExecuteInitSteps_FullGraph(t *testing.T) {
	setTestEnv(t)

	state := &appState{}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	require.NoError(t, err)

	t.Cleanup(func() {
		if state.recorder != nil {
			_ = state.recorder.Close()
		}
		if state.sessionStore != nil {
			_ = state.sessionStore.Close()
		}
		if state.history != nil {
			_ = state.history.Close()
		}
		if state.logger != nil {
			state.logger.Close()
		}
	})

	require.NotNil(t, state.config)
	assert.Equal(t, "123456:test-token", state.config.Telegram.BotToken)
	assert.Equal(t, 2, state.pool.Size())
	assert.Equal(t, 3, state.gatekeeper.Slots())
	assert.NotNil(t, state.sessions)
	assert.NotNil(t, state.dispatcher)
	assert.NotNil(t, state.validator)
	assert.NotNil(t, state.stamper)
	assert.NotNil(t, state.botClient)
	assert.NotNil(t, state.cardService)
	assert.NotNil(t, state.status)
	assert.NotNil(t, state.recorder)
}
