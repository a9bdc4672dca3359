package layer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/vlayer/internal/edit"
	"github.com/roach88/vlayer/internal/expression"
	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/join"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
)

// FeatureIterator merges a layer's edit overlay with its provider stream.
// See the package documentation for the algorithm.
//
// A FeatureIterator is not safe for concurrent use.
type FeatureIterator struct {
	ctx    context.Context
	layer  *Layer
	logger *slog.Logger

	req         feature.Request
	providerReq feature.Request
	fields      schema.Fields
	plan        *join.Plan
	program     expression.Program

	edits      *edit.Buffer
	source     provider.Iterator
	considered map[int64]struct{}
	changedPos int
	addedPos   int
	fidDone    bool

	current *feature.Feature
	err     error
	closed  bool
}

var _ feature.Iterator = (*FeatureIterator)(nil)

// openFunc opens the provider scan of a new iterator.
type openFunc func(ctx context.Context, req feature.Request) (provider.Iterator, error)

func newFeatureIterator(ctx context.Context, l *Layer, req feature.Request, open openFunc) *FeatureIterator {
	it := &FeatureIterator{
		ctx:    ctx,
		layer:  l,
		logger: l.logger,
		req:    req,
		fields: l.Fields(),
		edits:  l.EditBuffer(),
	}

	if req.FilterType() == feature.FilterExpression {
		prog, err := l.evaluator.Compile(req.Expression(), it.fields.Names())
		if err != nil {
			it.fail(CodeExpressionInvalid, "filter expression does not compile", err)
			return it
		}
		it.program = prog
		// The expression may reference any field.
		it.req = req.WithAllAttributes()
	}

	plan, err := join.Prepare(it.fields, l.joins, l.resolver(), it.req)
	if err != nil {
		code := CodeUnknownField
		if errors.Is(err, join.ErrDanglingJoin) {
			code = CodeDanglingJoin
		}
		it.fail(code, "cannot prepare joins", err)
		return it
	}
	plan.Logger = it.logger
	it.plan = plan
	it.providerReq = it.buildProviderRequest()

	if it.req.FilterType() != feature.FilterFid {
		src, err := open(ctx, it.providerReq)
		if err != nil {
			it.fail(CodeProviderFailure, "cannot open provider", err)
			return it
		}
		it.source = src
		it.resetOverlay()
	}
	return it
}

// buildProviderRequest maps the request to provider fields: join fields are
// dropped, join target fields added, and expression filters are evaluated
// here rather than by the provider.
func (it *FeatureIterator) buildProviderRequest() feature.Request {
	preq := it.req
	if preq.FilterType() == feature.FilterExpression {
		preq = preq.WithNoFilter()
	}
	if !it.req.HasSubset() {
		return preq
	}
	wanted := append(it.req.Subset(), it.plan.ExtraTargets...)
	subset := make([]int, 0, len(wanted))
	for _, idx := range wanted {
		f, ok := it.fields.At(idx)
		if ok && f.Origin == schema.OriginProvider {
			subset = append(subset, f.OriginIndex)
		}
	}
	return preq.WithSubset(subset...)
}

func (it *FeatureIterator) fail(code ErrorCode, msg string, err error) {
	it.err = &IteratorError{Code: code, Message: msg, Dataset: it.layer.id, Err: err}
	it.logger.Error("feature iterator failed",
		"dataset", it.layer.id,
		"code", string(code),
		"request", it.req.String(),
		"error", err)
	it.Close()
}

// resetOverlay restarts the overlay cursors against the layer's current
// editing session.
func (it *FeatureIterator) resetOverlay() {
	it.edits = it.layer.EditBuffer()
	it.changedPos = 0
	it.addedPos = 0
	if it.edits != nil {
		it.considered = it.edits.DeletedIDs()
	} else {
		it.considered = make(map[int64]struct{})
	}
}

// Next advances to the next feature. It returns false at end of stream, on
// failure (see Err) and after Close.
func (it *FeatureIterator) Next() bool {
	it.current = nil
	if it.closed {
		return false
	}
	var f *feature.Feature
	if it.req.FilterType() == feature.FilterFid {
		f = it.nextByID()
	} else {
		f = it.nextStreaming()
	}
	if f == nil {
		return false
	}
	it.current = f
	return true
}

func (it *FeatureIterator) nextByID() *feature.Feature {
	if it.fidDone {
		return nil
	}
	it.fidDone = true
	id := it.req.Fid()

	if edits := it.layer.EditBuffer(); edits != nil {
		it.edits = edits
		if edits.IsDeleted(id) {
			return nil
		}
		if g, ok := edits.ChangedGeometry(id); ok && !it.req.SkipGeometry() {
			return it.changedGeometryFeature(id, g)
		}
		if added, ok := edits.AddedFeature(id); ok {
			return it.addedFeature(added)
		}
	}

	src, ok, err := it.layer.featureAt(it.ctx, id, it.providerReq)
	if err != nil {
		it.providerFailed(err)
		return nil
	}
	if !ok {
		return nil
	}
	return it.providerFeature(src)
}

func (it *FeatureIterator) nextStreaming() *feature.Feature {
	byRect := it.req.FilterType() == feature.FilterRect
	rect := it.req.Rect()

	if it.edits != nil && byRect {
		for it.changedPos < it.edits.ChangedGeometryCount() {
			id, g, ok := it.edits.ChangedGeometryAt(it.changedPos)
			it.changedPos++
			if !ok {
				break
			}
			if _, seen := it.considered[id]; seen {
				continue
			}
			// Considered even when it misses the rectangle: the provider
			// still has the old geometry.
			it.considered[id] = struct{}{}
			if !g.Intersects(rect) {
				continue
			}
			if f := it.changedGeometryFeature(id, g); it.accept(f) {
				return f
			}
		}
	}

	if it.edits != nil {
		for it.addedPos < it.edits.AddedCount() {
			added, ok := it.edits.AddedAt(it.addedPos)
			it.addedPos++
			if !ok {
				break
			}
			if _, seen := it.considered[added.ID()]; seen {
				continue
			}
			if byRect && !added.Geometry().Intersects(rect) {
				continue
			}
			if f := it.addedFeature(added); it.accept(f) {
				return f
			}
		}
	}

	for it.source.Next() {
		src := it.source.Feature()
		if _, seen := it.considered[src.ID()]; seen {
			continue
		}
		if f := it.providerFeature(src); it.accept(f) {
			return f
		}
	}
	if err := it.source.Err(); err != nil {
		it.providerFailed(err)
	}
	it.Close()
	return nil
}

func (it *FeatureIterator) providerFailed(err error) {
	it.logger.Warn("provider read failed, ending stream",
		"dataset", it.layer.id,
		"request", it.req.String(),
		"error", err)
	it.err = &IteratorError{Code: CodeProviderFailure, Message: "provider read failed", Dataset: it.layer.id, Err: err}
}

// accept applies the expression filter, if any. Evaluation errors are
// non-matches.
func (it *FeatureIterator) accept(f *feature.Feature) bool {
	if it.program == nil {
		return true
	}
	ok, err := it.program.Match(expression.Env(it.fields, f))
	if err != nil {
		it.logger.Debug("filter expression failed", "dataset", it.layer.id, "fid", f.ID(), "error", err)
		return false
	}
	return ok
}

// copyProviderAttributes writes provider attributes into their layer slots.
func (it *FeatureIterator) copyProviderAttributes(dst, src *feature.Feature) {
	for i, field := range it.fields {
		if field.Origin == schema.OriginProvider {
			dst.SetAttribute(i, src.Attribute(field.OriginIndex))
		}
	}
}

func (it *FeatureIterator) providerFeature(src *feature.Feature) *feature.Feature {
	f := feature.New(src.ID(), it.fields.Count())
	it.copyProviderAttributes(f, src)
	if it.edits != nil {
		it.edits.ApplyAttributeChanges(f)
	}
	if len(it.plan.Infos) > 0 {
		it.plan.Enrich(it.ctx, f)
	}
	if !it.req.SkipGeometry() {
		g := src.Geometry()
		if it.edits != nil {
			if changed, ok := it.edits.ChangedGeometry(src.ID()); ok {
				g = changed
			}
		}
		f.SetGeometry(g)
	}
	return f
}

func (it *FeatureIterator) changedGeometryFeature(id int64, g *feature.Geometry) *feature.Feature {
	f := feature.New(id, it.fields.Count())
	if it.req.AttributesRequested() {
		req := it.providerReq.WithSkipGeometry(true)
		src, ok, err := it.layer.featureAt(it.ctx, id, req)
		switch {
		case err != nil:
			it.logger.Warn("provider lookup failed for changed geometry",
				"dataset", it.layer.id, "fid", id, "error", err)
		case ok:
			it.copyProviderAttributes(f, src)
			if it.edits != nil {
				it.edits.ApplyAttributeChanges(f)
			}
		}
	}
	if len(it.plan.Infos) > 0 {
		it.plan.Enrich(it.ctx, f)
	}
	if !it.req.SkipGeometry() {
		f.SetGeometry(g)
	}
	return f
}

func (it *FeatureIterator) addedFeature(added *feature.Feature) *feature.Feature {
	f := feature.New(added.ID(), it.fields.Count())
	f.SetAttributes(added.Attributes().Resized(it.fields.Count()))
	if len(it.plan.Infos) > 0 {
		it.plan.Enrich(it.ctx, f)
	}
	if !it.req.SkipGeometry() {
		f.SetGeometry(added.Geometry())
	}
	return f
}

// Feature returns the current feature. The caller owns it.
func (it *FeatureIterator) Feature() *feature.Feature { return it.current }

// Err returns the error that closed or ended the iterator, if any.
func (it *FeatureIterator) Err() error { return it.err }

// Rewind restarts the pass. It re-reads the layer's current edit overlay.
// Returns false if the iterator is closed or the provider cannot rewind.
func (it *FeatureIterator) Rewind() bool {
	if it.closed {
		return false
	}
	it.current = nil
	if it.req.FilterType() == feature.FilterFid {
		it.fidDone = false
		return true
	}
	if err := it.source.Rewind(); err != nil {
		it.providerFailed(err)
		return false
	}
	it.err = nil
	it.resetOverlay()
	return true
}

// Close releases the provider iterator. Safe to call more than once.
func (it *FeatureIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.current = nil
	if it.source != nil {
		return it.source.Close()
	}
	return nil
}

// Closed reports whether the iterator is closed.
func (it *FeatureIterator) Closed() bool { return it.closed }
