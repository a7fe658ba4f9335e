package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"meshbridge/pkg/session"
	"meshbridge/pkg/workspace"
)

const (
	defaultFilename  = "export.stl"
	defaultExtension = ".stl"
)

// DiskRenderer writes each artifact into the artifacts directory. The
// peer-supplied filename is untrusted input: only its base name is kept
// and the guard re-checks containment before the write.
type DiskRenderer struct {
	guard *workspace.Guard
	log   *slog.Logger
}

func NewDiskRenderer(guard *workspace.Guard, log *slog.Logger) (*DiskRenderer, error) {
	if guard == nil {
		return nil, errors.New("artifacts guard is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &DiskRenderer{
		guard: guard,
		log:   log.With("component", "render.disk"),
	}, nil
}

func (r *DiskRenderer) Name() string {
	return "disk"
}

// Render writes the artifact bytes under a sanitized filename.
func (r *DiskRenderer) Render(_ context.Context, artifact session.Artifact) error {
	name := SanitizeFilename(artifact.Filename)

	path, err := r.guard.ResolvePath(name)
	if err != nil {
		return fmt.Errorf("resolve artifact path: %w", err)
	}

	if err := os.WriteFile(path, artifact.Bytes, 0o644); err != nil {
		return workspace.NormalizeIOError(err, "write artifact")
	}

	r.log.Info("Artifact written", "path", r.guard.RelPath(path), "bytes", len(artifact.Bytes))
	return nil
}

// SanitizeFilename reduces a peer-supplied filename to a safe base name
// with an .stl extension.
func SanitizeFilename(input string) string {
	name := strings.TrimSpace(input)
	if name == "" {
		return defaultFilename
	}

	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return defaultFilename
	}

	if !strings.EqualFold(filepath.Ext(name), defaultExtension) {
		name += defaultExtension
	}

	return name
}
