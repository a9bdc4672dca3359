package join

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
)

// FetchInfo describes how one iterator fills the slots of one join.
type FetchInfo struct {
	Relationship *Relationship
	Source       Source

	// JoinIndex is the relationship's position in the join buffer.
	JoinIndex int
	// IndexOffset is the first destination slot in this dataset's
	// attribute vector, or -1 when the join contributes no fields.
	IndexOffset int
	// TargetField is the index of the target field in this dataset.
	TargetField int
	// JoinField is the index of the join field in the joined dataset.
	JoinField int
	// SourceWidth is the joined dataset's field count.
	SourceWidth int
	// Attributes are the joined dataset field indices the projection needs.
	Attributes []int
}

// Plan is the join work of one iterator.
type Plan struct {
	Infos []*FetchInfo

	// ExtraTargets are target field indices missing from the caller's
	// subset. They must be read from the provider for the joins to match.
	ExtraTargets []int

	// Logger receives lookup failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Prepare computes the joins needed by req against a dataset with the given
// fields and join buffer. With an attribute subset, only joins owning a
// requested field take part; otherwise every join does.
//
// A join whose dataset cannot be resolved, or whose join or target field
// does not exist, fails the whole plan: continuing would misalign the
// attribute slots of every other join.
func Prepare(fields schema.Fields, buf *Buffer, resolver Resolver, req feature.Request) (*Plan, error) {
	rels := buf.Relationships()
	wanted := make(map[int][]int)

	if req.HasSubset() {
		for _, idx := range req.Subset() {
			f, ok := fields.At(idx)
			if !ok || f.Origin != schema.OriginJoin {
				continue
			}
			wanted[f.JoinIndex] = append(wanted[f.JoinIndex], f.OriginIndex)
		}
	} else {
		for i := range rels {
			wanted[i] = nil
		}
	}

	plan := &Plan{}
	for joinIndex, rel := range rels {
		attrs, ok := wanted[joinIndex]
		if !ok {
			continue
		}
		info, err := prepareInfo(fields, rel, joinIndex, resolver)
		if err != nil {
			return nil, err
		}
		if !req.HasSubset() {
			attrs = make([]int, 0, info.SourceWidth)
			for i := 0; i < info.SourceWidth; i++ {
				if i != info.JoinField {
					attrs = append(attrs, i)
				}
			}
		}
		info.Attributes = attrs
		plan.Infos = append(plan.Infos, info)

		if req.HasSubset() && !req.Wants(info.TargetField) && !slices.Contains(plan.ExtraTargets, info.TargetField) {
			plan.ExtraTargets = append(plan.ExtraTargets, info.TargetField)
		}
	}
	return plan, nil
}

func prepareInfo(fields schema.Fields, rel *Relationship, joinIndex int, resolver Resolver) (*FetchInfo, error) {
	src, ok := resolver.Resolve(rel.JoinDatasetID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDanglingJoin, rel.JoinDatasetID)
	}
	srcFields := src.Fields()
	joinField := srcFields.IndexFromName(rel.JoinFieldName)
	if joinField < 0 {
		return nil, fmt.Errorf("%w: join field %q in dataset %q", ErrUnknownField, rel.JoinFieldName, rel.JoinDatasetID)
	}
	target := fields.IndexFromName(rel.TargetFieldName)
	if target < 0 || fields.FieldOrigin(target) != schema.OriginProvider {
		return nil, fmt.Errorf("%w: target field %q is not a provider field", ErrUnknownField, rel.TargetFieldName)
	}
	return &FetchInfo{
		Relationship: rel,
		Source:       src,
		JoinIndex:    joinIndex,
		IndexOffset:  fields.JoinOffset(joinIndex),
		TargetField:  target,
		JoinField:    joinField,
		SourceWidth:  srcFields.Count(),
	}, nil
}

// Enrich fills the join slots of f, whose attribute vector must already be
// at the dataset's full width. A missing target value or an unmatched key
// leaves the slots null. Lookup failures are logged and treated as misses.
func (p *Plan) Enrich(ctx context.Context, f *feature.Feature) {
	for _, info := range p.Infos {
		row, _ := p.lookup(ctx, info, f.Attribute(info.TargetField))
		info.copyInto(f, row)
	}
}

func (p *Plan) lookup(ctx context.Context, info *FetchInfo, target any) (feature.Attributes, bool) {
	key, ok := feature.CanonicalKey(target)
	if !ok {
		return nil, false
	}
	if rows, cached := info.Relationship.CachedAttributes(); cached {
		row, hit := rows[key]
		return row, hit
	}
	row, hit, err := lookupDirect(ctx, info, target)
	if err != nil {
		p.logger().Warn("direct join lookup failed",
			"dataset", info.Relationship.JoinDatasetID,
			"key", key,
			"error", err)
		return nil, false
	}
	return row, hit
}

// lookupDirect queries the joined dataset for the first row whose join
// field equals target.
func lookupDirect(ctx context.Context, info *FetchInfo, target any) (feature.Attributes, bool, error) {
	subset := append(slices.Clone(info.Attributes), info.JoinField)
	req := feature.NewRequest().WithSubset(subset...).WithSkipGeometry(true)
	pred := provider.Equals{Field: info.Relationship.JoinFieldName, Value: target}

	it, err := info.Source.ScanMatching(ctx, pred, req)
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	for it.Next() {
		cand := it.Feature()
		if feature.ValuesEqual(cand.Attribute(info.JoinField), target) {
			return cand.Attributes().Clone(), true, nil
		}
	}
	return nil, false, it.Err()
}

// copyInto writes the projected attributes of row into f's join slots,
// skipping the join field. A nil row nulls the slots.
func (info *FetchInfo) copyInto(f *feature.Feature, row feature.Attributes) {
	if info.IndexOffset < 0 {
		return
	}
	dst := info.IndexOffset
	for j := 0; j < info.SourceWidth; j++ {
		if j == info.JoinField {
			continue
		}
		var v any
		if j < len(row) && slices.Contains(info.Attributes, j) {
			v = row[j]
		}
		f.SetAttribute(dst, v)
		dst++
	}
}

func (p *Plan) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
