package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vlayer/internal/project"
)

// ValidationResult describes an opened project.
type ValidationResult struct {
	Valid    bool             `json:"valid"`
	Datasets []DatasetSummary `json:"datasets"`
}

// DatasetSummary lists one dataset's fields and joins.
type DatasetSummary struct {
	ID     string         `json:"id"`
	Fields []FieldSummary `json:"fields"`
	Joins  []string       `json:"joins,omitempty"`
}

// FieldSummary is one field of a dataset's schema.
type FieldSummary struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Origin string `json:"origin"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <project.cue>",
		Short: "Validate a project and list its datasets",
		Long: `Validate a project file against the project schema, open its database
and build every dataset with its joins.

Prints each dataset's fields, including joined fields, in schema order.

Exit codes:
  0 - Project is valid
  1 - Project is invalid or could not be opened
  2 - Command error (missing file, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := loadProject(cmd.Context(), formatter, path)
	if err != nil {
		return err
	}
	defer closeProject(p)

	return formatter.Success(summarize(p))
}

func summarize(p *project.Project) ValidationResult {
	result := ValidationResult{Valid: true}
	for _, l := range p.Registry.Layers() {
		ds := DatasetSummary{ID: l.ID()}
		for _, f := range l.Fields() {
			ds.Fields = append(ds.Fields, FieldSummary{
				Name:   f.Name,
				Type:   string(f.Type),
				Origin: f.Origin.String(),
			})
		}
		for _, rel := range l.Joins().Relationships() {
			ds.Joins = append(ds.Joins, rel.JoinDatasetID)
		}
		result.Datasets = append(result.Datasets, ds)
	}
	slices.SortFunc(result.Datasets, func(a, b DatasetSummary) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

// WriteText renders the result as:
//
//	✓ project valid
//	cities (joins: countries)
//	  name text provider
func (r ValidationResult) WriteText(w io.Writer) error {
	fmt.Fprintln(w, "✓ project valid")
	for _, ds := range r.Datasets {
		if len(ds.Joins) > 0 {
			fmt.Fprintf(w, "%s (joins: %s)\n", ds.ID, strings.Join(ds.Joins, ", "))
		} else {
			fmt.Fprintln(w, ds.ID)
		}
		for _, f := range ds.Fields {
			fmt.Fprintf(w, "  %s %s %s\n", f.Name, f.Type, f.Origin)
		}
	}
	return nil
}
