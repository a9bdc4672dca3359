package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-spatial/geom/encoding/wkb"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite database holding dataset tables.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the catalog schema.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and ":memory:" databases
	// are per connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

type catalogField struct {
	Name string      `json:"name"`
	Type schema.Type `json:"type"`
}

// CreateTable creates a dataset table for fields if it does not exist and
// records it in the catalog.
func (s *Store) CreateTable(ctx context.Context, table string, fields schema.Fields) error {
	if err := validateIdent(table); err != nil {
		return err
	}
	cols := []string{
		"fid INTEGER PRIMARY KEY",
		"geom BLOB",
		"minx REAL", "miny REAL", "maxx REAL", "maxy REAL",
	}
	catalog := make([]catalogField, 0, len(fields))
	for _, f := range fields {
		if err := validateIdent(f.Name); err != nil {
			return err
		}
		if isReservedColumn(f.Name) {
			return fmt.Errorf("field name %q is reserved", f.Name)
		}
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(f.Name), columnType(f.Type)))
		catalog = append(catalog, catalogField{Name: f.Name, Type: f.Type})
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (minx, miny, maxx, maxy)",
			quoteIdent("idx_"+table+"_bbox"), quoteIdent(table)),
	); err != nil {
		return fmt.Errorf("create bbox index on %s: %w", table, err)
	}

	fieldsJSON, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vlayer_tables (name, fields) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET fields = excluded.fields`,
		table, string(fieldsJSON),
	); err != nil {
		return fmt.Errorf("record table %s: %w", table, err)
	}
	return nil
}

// TableFields returns the fields recorded for table by CreateTable.
// Returns sql.ErrNoRows if the table is unknown.
func (s *Store) TableFields(ctx context.Context, table string) (schema.Fields, error) {
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT fields FROM vlayer_tables WHERE name = ?`, table).Scan(&fieldsJSON)
	if err != nil {
		return nil, err
	}
	var catalog []catalogField
	if err := json.Unmarshal([]byte(fieldsJSON), &catalog); err != nil {
		return nil, fmt.Errorf("unmarshal fields of %s: %w", table, err)
	}
	out := make([]schema.Field, len(catalog))
	for i, f := range catalog {
		out[i] = schema.Field{Name: f.Name, Type: f.Type}
	}
	return schema.NewProviderFields(out...), nil
}

// InsertFeatures writes feats into table in one transaction. Attributes are
// positional per fields.
func (s *Store) InsertFeatures(ctx context.Context, table string, fields schema.Fields, feats ...*feature.Feature) error {
	cols := []string{"fid", "geom", "minx", "miny", "maxx", "maxy"}
	for _, f := range fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), placeholders)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer prepared.Close()

	for _, f := range feats {
		args, err := insertArgs(f, len(fields))
		if err != nil {
			return fmt.Errorf("feature %d: %w", f.ID(), err)
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert feature %d into %s: %w", f.ID(), table, err)
		}
	}
	return tx.Commit()
}

func insertArgs(f *feature.Feature, width int) ([]any, error) {
	args := make([]any, 0, 6+width)
	args = append(args, f.ID())
	if g := f.Geometry(); g != nil {
		blob, err := wkb.EncodeBytes(g.Shape())
		if err != nil {
			return nil, fmt.Errorf("encode geometry: %w", err)
		}
		b := g.Bounds()
		args = append(args, blob, b[0], b[1], b[2], b[3])
	} else {
		args = append(args, nil, nil, nil, nil, nil)
	}
	attrs := f.Attributes().Resized(width)
	for _, v := range attrs {
		args = append(args, feature.Normalize(v))
	}
	return args, nil
}

func columnType(t schema.Type) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func isReservedColumn(name string) bool {
	switch strings.ToLower(name) {
	case "fid", "geom", "minx", "miny", "maxx", "maxy":
		return true
	}
	return false
}

func validateIdent(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("identifier %q contains NUL", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
