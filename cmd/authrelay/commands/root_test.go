package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/authrelay/authrelay/internal/errors"
	"github.com/authrelay/authrelay/internal/secretstore"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authrelay.yaml")
	data := []byte(`
vault:
  type: memory
events:
  type: memory
logging:
  level: error
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd(BuildInfo{Version: "test", Commit: "abc", Date: "today"})

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["gateway"])
	assert.True(t, names["backend"])
	assert.True(t, names["rotation"])
	assert.Contains(t, root.Version, "test")
}

func TestRotationCommandHasSubcommands(t *testing.T) {
	configFile := "authrelay.yaml"
	cmd := NewRotationCmd(&configFile)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "advance", "cancel", "status", "list"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestBuildRuntimeMemoryStore(t *testing.T) {
	path := writeTestConfig(t)

	rt, err := buildRuntime(context.Background(), path)
	require.NoError(t, err)
	defer rt.close()

	assert.True(t, rt.store.Connected())
	assert.NotNil(t, rt.codec)
	assert.NotNil(t, rt.events)

	// Signing material was bootstrapped on first run.
	material, err := rt.store.Get(context.Background(), secretstore.SigningKeyPath())
	require.NoError(t, err)
	assert.NotEmpty(t, material)
}

func TestBuildRuntimeRejectsMissingConfig(t *testing.T) {
	_, err := buildRuntime(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestRotationStatusWithoutRotation(t *testing.T) {
	path := writeTestConfig(t)
	cmd := NewRotationCmd(&path)
	cmd.SetArgs([]string{"status", "ghost"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
}

func TestEnsureSigningKeyIsIdempotent(t *testing.T) {
	store := secretstore.NewMemory("test")

	first, err := ensureSigningKey(context.Background(), store)
	require.NoError(t, err)
	second, err := ensureSigningKey(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
