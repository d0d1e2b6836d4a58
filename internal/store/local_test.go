package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckhsu1225/vvmviz/pkg/errors"
)

func TestNewLocal_EmptyRoot(t *testing.T) {
	l, err := NewLocal("")
	assert.Error(t, err)
	assert.Nil(t, l)
	assert.Contains(t, err.Error(), "data root cannot be empty")
}

func TestNewLocal_MissingRoot(t *testing.T) {
	l, err := NewLocal(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.Nil(t, l)

	var vvmErr *errors.VVMError
	require.True(t, errors.As(err, &vvmErr))
	assert.Equal(t, errors.ErrCodeStoreUnavailable, vvmErr.Code)
}

func TestNewLocal_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0600))

	_, err := NewLocal(root)
	require.Error(t, err)

	var vvmErr *errors.VVMError
	require.True(t, errors.As(err, &vvmErr))
	assert.Equal(t, errors.ErrCodeStoreUnavailable, vvmErr.Code)
}

func TestLocal_ListSimulations(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "run2"), 0750))
	require.NoError(t, os.Mkdir(filepath.Join(root, "run1"), 0750))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".staging"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0600))

	l, err := NewLocal(root)
	require.NoError(t, err)

	sims, err := l.ListSimulations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run1", "run2"}, sims)
}

func TestLocal_EnsureLocal(t *testing.T) {
	root := t.TempDir()
	simDir := filepath.Join(root, "run1")
	require.NoError(t, os.Mkdir(simDir, 0750))

	l, err := NewLocal(root)
	require.NoError(t, err)

	t.Run("relative name resolves under root", func(t *testing.T) {
		got, err := l.EnsureLocal(context.Background(), "run1")
		require.NoError(t, err)
		assert.Equal(t, simDir, got)
	})

	t.Run("absolute path used as given", func(t *testing.T) {
		got, err := l.EnsureLocal(context.Background(), simDir)
		require.NoError(t, err)
		assert.Equal(t, simDir, got)
	})

	t.Run("missing simulation", func(t *testing.T) {
		_, err := l.EnsureLocal(context.Background(), "run9")
		require.Error(t, err)

		var vvmErr *errors.VVMError
		require.True(t, errors.As(err, &vvmErr))
		assert.Equal(t, errors.ErrCodeSimulationNotFound, vvmErr.Code)
	})

	t.Run("escape from root rejected", func(t *testing.T) {
		_, err := l.EnsureLocal(context.Background(), filepath.Join("..", "outside"))
		require.Error(t, err)

		var vvmErr *errors.VVMError
		require.True(t, errors.As(err, &vvmErr))
		assert.Equal(t, errors.ErrCodeSimulationNotFound, vvmErr.Code)
	})

	t.Run("file instead of directory", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "flat.nc"), []byte("x"), 0600))

		_, err := l.EnsureLocal(context.Background(), "flat.nc")
		require.Error(t, err)

		var vvmErr *errors.VVMError
		require.True(t, errors.As(err, &vvmErr))
		assert.Equal(t, errors.ErrCodeSimulationNotFound, vvmErr.Code)
	})
}

func TestLocal_HealthCheck(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocal(root)
	require.NoError(t, err)

	assert.NoError(t, l.HealthCheck(context.Background()))

	require.NoError(t, os.Remove(root))
	err = l.HealthCheck(context.Background())
	require.Error(t, err)

	var vvmErr *errors.VVMError
	require.True(t, errors.As(err, &vvmErr))
	assert.Equal(t, errors.ErrCodeStoreUnavailable, vvmErr.Code)
}
