// Package sqlite provides a SQLite-backed provider.Provider.
//
// Each dataset is one table:
//
//	fid  INTEGER PRIMARY KEY
//	geom BLOB            -- WKB, NULL when the feature has no geometry
//	minx, miny, maxx, maxy REAL  -- geometry bounds, used for rect pushdown
//	<field columns>      -- INTEGER / REAL / TEXT per schema.Type
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: SQLite has a single writer
//
// # Paged Scans
//
// Provider iterators never keep a *sql.Rows open between calls to Next.
// They read keyset pages (fid > last ORDER BY fid LIMIT n) and release the
// connection after every page. With a single-connection pool this is what
// allows the overlay iterator to issue point queries and direct join
// lookups against the same database while a scan is in progress.
//
// Subset filters (provider.Predicate) are compiled to parameterised SQL.
// Values are never interpolated.
package sqlite
