// Package artifact stores job output files on the local filesystem.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/target/taskmanager-api/internal/core"
)

var (
	// ErrExists is returned when saving over an existing artifact.
	ErrExists = errors.New("artifact already exists")
	// ErrNotFound is returned when opening a missing artifact.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName is returned for names that could escape the store root.
	ErrInvalidName = errors.New("invalid artifact name")
)

const tempPrefix = ".partial-"

// LocalFS is an append-only artifact namespace rooted at a directory.
// Files appear under their final name only once fully written.
type LocalFS struct {
	root   string
	logger *slog.Logger
}

var _ core.ArtifactStore = (*LocalFS)(nil)

// NewLocalFS creates root if needed.
func NewLocalFS(root string, logger *slog.Logger) (*LocalFS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifact root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalFS{root: abs, logger: logger.With("component", "artifact_store")}, nil
}

// Root returns the absolute directory holding artifacts.
func (s *LocalFS) Root() string { return s.root }

// ValidateName rejects empty names, path separators, dot segments and the
// temporary file prefix.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.HasPrefix(name, tempPrefix):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Save writes data to a temporary file and hard-links it to name, which
// fails if name already exists. The returned reference is the name.
func (s *LocalFS) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.WarnContext(ctx, "remove temp artifact failed", "path", tmpPath, "error", rmErr)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact %s: %w", name, err)
	}

	if err := os.Link(tmpPath, filepath.Join(s.root, name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, name)
		}
		return "", fmt.Errorf("publish artifact %s: %w", name, err)
	}

	s.logger.DebugContext(ctx, "artifact saved", "name", name, "bytes", len(data))
	return name, nil
}

// Open streams a stored artifact. Callers close the reader.
func (s *LocalFS) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	f, err := os.OpenInRoot(s.root, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", name, err)
	}
	return f, nil
}
