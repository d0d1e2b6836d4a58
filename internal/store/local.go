package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ckhsu1225/vvmviz/pkg/errors"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// Local serves simulations straight from a data root on disk.
type Local struct {
	root   string
	logger *slog.Logger
}

// NewLocal creates a store over an existing data root directory.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("data root cannot be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStoreUnavailable, "data root not accessible").
			WithComponent("store").
			WithOperation("new_local").
			WithContext("root", abs).
			WithCause(err)
	}
	if !info.IsDir() {
		return nil, errors.NewError(errors.ErrCodeStoreUnavailable, "data root is not a directory").
			WithComponent("store").
			WithContext("root", abs)
	}

	return &Local{
		root:   abs,
		logger: slog.Default().With("component", "store", "root", abs),
	}, nil
}

// Root returns the absolute data root path.
func (l *Local) Root() string {
	return l.root
}

// ListSimulations returns the simulation directory names under the root,
// sorted. Hidden directories are skipped.
func (l *Local) ListSimulations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStoreUnavailable, "failed to read data root").
			WithComponent("store").
			WithOperation("list_simulations").
			WithContext("root", l.root).
			WithCause(err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// EnsureLocal resolves simPath to a directory on disk. Absolute paths are
// used as given; relative names resolve under the data root and must not
// escape it.
func (l *Local) EnsureLocal(ctx context.Context, simPath string) (string, error) {
	path := simPath
	if !filepath.IsAbs(path) {
		joined, err := utils.SecureJoin(l.root, simPath)
		if err != nil {
			return "", errors.NewError(errors.ErrCodeSimulationNotFound, "simulation path escapes the data root").
				WithComponent("store").
				WithOperation("ensure_local").
				WithContext("path", simPath).
				WithCause(err)
		}
		path = joined
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.NewError(errors.ErrCodeSimulationNotFound, "simulation directory not found").
			WithComponent("store").
			WithOperation("ensure_local").
			WithContext("path", path).
			WithCause(err)
	}
	if !info.IsDir() {
		return "", errors.NewError(errors.ErrCodeSimulationNotFound, "simulation path is not a directory").
			WithComponent("store").
			WithOperation("ensure_local").
			WithContext("path", path)
	}

	return path, nil
}

// HealthCheck verifies the data root is still reachable.
func (l *Local) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(l.root); err != nil {
		return errors.NewError(errors.ErrCodeStoreUnavailable, "data root not accessible").
			WithComponent("store").
			WithContext("root", l.root).
			WithCause(err)
	}
	return nil
}
