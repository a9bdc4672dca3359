package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vlayer/internal/edit"
	"github.com/roach88/vlayer/internal/harness"
	"github.com/roach88/vlayer/internal/layer"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Edits      string    // YAML edit script applied before the read
	Rect       []float64 // minx,miny,maxx,maxy
	Fid        int64
	Where      string
	Fields     []string
	NoGeometry bool
}

// ScanResult is the drained output of one read.
type ScanResult struct {
	Dataset  string                  `json:"dataset"`
	Request  string                  `json:"request"`
	Fields   []string                `json:"fields"`
	Added    []int64                 `json:"added,omitempty"`
	Features []harness.FeatureRecord `json:"features"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <project.cue> <dataset>",
		Short: "Read a dataset through its edit overlay",
		Long: `Read every feature of a dataset as it looks with pending edits applied.

Under --rect, stored features whose edited geometry moved into the
rectangle come first. Then come features added by the edit script, then
the remaining stored features in store order. Deleted features are never
returned. Joined attributes are resolved through the project's joins.
At most one of --fid, --rect and --where may be given.

Examples:
  vlayer scan project.cue roads
  vlayer scan project.cue roads --edits edits.yaml --rect 0,0,10,10
  vlayer scan project.cue cities --where "countries_population > 70" --fields name
  vlayer scan project.cue roads --fid 3 --no-geometry --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Edits, "edits", "", "YAML edit script applied before reading")
	cmd.Flags().Float64SliceVar(&opts.Rect, "rect", nil, "bounding box filter minx,miny,maxx,maxy")
	cmd.Flags().Int64Var(&opts.Fid, "fid", 0, "read a single feature id")
	cmd.Flags().StringVar(&opts.Where, "where", "", "expression filter")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "attributes to fetch (default all)")
	cmd.Flags().BoolVar(&opts.NoGeometry, "no-geometry", false, "do not fetch geometries")

	return cmd
}

// requestSpec maps the flags onto a request. Unset flags stay unset so
// that an explicit empty --fields still means "no attributes".
func (o *ScanOptions) requestSpec(cmd *cobra.Command) harness.RequestSpec {
	spec := harness.RequestSpec{Where: o.Where, NoGeometry: o.NoGeometry}
	flags := cmd.Flags()
	if flags.Changed("fid") {
		fid := o.Fid
		spec.Fid = &fid
	}
	if flags.Changed("rect") {
		spec.Rect = o.Rect
	}
	if flags.Changed("fields") {
		spec.Fields = o.Fields
		if spec.Fields == nil {
			spec.Fields = []string{}
		}
	}
	return spec
}

func runScan(opts *ScanOptions, path, dataset string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	p, err := loadProject(ctx, formatter, path)
	if err != nil {
		return err
	}
	defer closeProject(p)

	l, ok := p.Layer(dataset)
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeDataset, fmt.Sprintf("unknown dataset %q", dataset), nil)
	}

	result := ScanResult{Dataset: dataset}
	if opts.Edits != "" {
		script, err := edit.LoadScript(opts.Edits)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeRequest, "failed to load edits", err)
		}
		added, err := script.Apply(l.StartEditing(), l.Fields())
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeRequest, "failed to apply edits", err)
		}
		result.Added = added
		formatter.VerboseLog("Applied %d edit(s) to %s", len(script.Edits), dataset)
	}

	fields := l.Fields()
	req, err := opts.requestSpec(cmd).Build(fields)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRequest, "invalid request", err)
	}
	result.Request = req.String()
	result.Fields = fields.Names()

	it := l.Features(ctx, req)
	defer it.Close()
	for it.Next() {
		f := it.Feature()
		result.Features = append(result.Features, harness.FeatureRecord{
			Fid:      f.ID(),
			Geometry: f.Geometry().String(),
			Values:   f.Attributes().Clone(),
		})
	}
	if err := it.Err(); err != nil {
		code := ErrCodeIterator
		var ie *layer.IteratorError
		if errors.As(err, &ie) {
			code = fmt.Sprintf("%s/%s", ErrCodeIterator, ie.Code)
		}
		return formatter.Fail(ExitFailure, code, "read failed", err)
	}
	slog.Debug("scan complete", "dataset", dataset, "request", result.Request, "features", len(result.Features))

	return formatter.Success(result)
}

// WriteText renders the result in the harness drain format.
func (r ScanResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s %s\n", r.Dataset, r.Request)
	fmt.Fprintf(w, "  fields: %s\n", strings.Join(r.Fields, ", "))
	for _, f := range r.Features {
		fmt.Fprintf(w, "  %d %s", f.Fid, f.Geometry)
		for _, v := range f.Values {
			fmt.Fprintf(w, " %s", harness.FormatValue(v))
		}
		fmt.Fprintln(w)
	}
	_, err := fmt.Fprintf(w, "%d feature(s)\n", len(r.Features))
	return err
}
