package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/vlayer/internal/project"
)

// configDetails is the JSON detail of an invalid project file.
type configDetails struct {
	Field string `json:"field"`
	Line  int    `json:"line,omitempty"`
}

// loadProject loads, validates and opens the project file at path.
// Failures are reported through f and returned as an ExitError.
func loadProject(ctx context.Context, f *OutputFormatter, path string) (*project.Project, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "project file not found: "+path, nil)
	}

	cfg, err := project.Load(path)
	if err != nil {
		var cfgErr *project.ConfigError
		if errors.As(err, &cfgErr) {
			details := configDetails{Field: cfgErr.Field}
			if cfgErr.Pos.IsValid() {
				details.Line = cfgErr.Pos.Line()
			}
			_ = f.Error(ErrCodeConfig, cfgErr.Message, details)
			return nil, WrapExitError(ExitFailure, "invalid project", err)
		}
		return nil, f.Fail(ExitFailure, ErrCodeConfig, "invalid project", err)
	}
	f.VerboseLog("Loaded %d dataset(s) from %s", len(cfg.Datasets), path)

	p, err := project.Open(ctx, cfg, filepath.Dir(path), project.WithLogger(slog.Default()))
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeOpen, "failed to open project", err)
	}
	return p, nil
}

func closeProject(p *project.Project) {
	if err := p.Close(); err != nil {
		slog.Error("error closing project", "error", err)
	}
}
