package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/vlayer/internal/edit"
	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/layer"
	"github.com/roach88/vlayer/internal/project"
	"github.com/roach88/vlayer/internal/testutil"
)

// Harness runs one scenario against a fresh project.
type Harness struct {
	project *project.Project
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Setup failures (bad
// datasets, joins or edits) are returned as errors; check failures are
// recorded in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := scenario.projectConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid datasets: %w", err)
	}
	p, err := project.Open(ctx, cfg, "", project.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open project: %w", err)
	}
	defer p.Close()

	h := &Harness{project: p, logger: logger}
	if err := h.applyEdits(scenario); err != nil {
		return nil, fmt.Errorf("failed to apply edits: %w", err)
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		sr, err := h.runStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		result.Steps = append(result.Steps, sr)
		for _, msg := range checkStep(step, sr) {
			result.AddError(fmt.Sprintf("step %d: %s", i+1, msg))
		}
	}
	return result, nil
}

func (h *Harness) applyEdits(scenario *Scenario) error {
	sessions := testutil.NewFixedSessionGenerator(scenario.SessionID)
	for _, ds := range scenario.Datasets {
		if len(ds.Edits) == 0 {
			continue
		}
		l, _ := h.project.Layer(ds.ID)
		buf := l.StartEditing(edit.WithSessionIDGenerator(sessions))
		script := &edit.Script{Edits: ds.Edits}
		if _, err := script.Apply(buf, l.Fields()); err != nil {
			return fmt.Errorf("dataset %q: %w", ds.ID, err)
		}
	}
	return nil
}

func (h *Harness) runStep(ctx context.Context, index int, step Step) (StepResult, error) {
	if step.Remove != "" {
		h.project.Registry.Remove(step.Remove)
	}
	l, ok := h.project.Layer(step.Dataset)
	if !ok {
		return StepResult{}, fmt.Errorf("dataset %q is not registered", step.Dataset)
	}
	fields := l.Fields()
	req, err := step.Request.Build(fields)
	if err != nil {
		return StepResult{}, fmt.Errorf("request: %w", err)
	}

	sr := StepResult{
		Index:   index + 1,
		Dataset: step.Dataset,
		Request: req.String(),
		Fields:  fields.Names(),
	}

	it := l.Features(ctx, req)
	defer it.Close()

	if step.RewindAfter > 0 {
		for n := 0; n < step.RewindAfter && it.Next(); n++ {
		}
		if !it.Rewind() {
			return StepResult{}, fmt.Errorf("rewind after %d features failed", step.RewindAfter)
		}
	}
	for it.Next() {
		sr.Features = append(sr.Features, record(it.Feature()))
	}
	if err := it.Err(); err != nil {
		var ie *layer.IteratorError
		if !errors.As(err, &ie) {
			return StepResult{}, err
		}
		sr.ErrorCode = string(ie.Code)
	}
	h.logger.Debug("step drained", "step", sr.Index, "dataset", sr.Dataset, "features", len(sr.Features))
	return sr, nil
}

func record(f *feature.Feature) FeatureRecord {
	return FeatureRecord{
		Fid:      f.ID(),
		Geometry: f.Geometry().String(),
		Values:   f.Attributes().Clone(),
	}
}
