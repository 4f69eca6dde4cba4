package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver.
)

// DefaultTable is the table read when a sqlite id names none.
const DefaultTable = "items"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSource reads records from a table with an integer primary key "id" and
// a JSON object column "data", in ascending id order.
type SQLiteSource struct {
	db       *sql.DB
	path     string
	table    string
	pageSize int
}

// OpenSQLiteSource opens the database at path. The connection is checked eagerly.
func OpenSQLiteSource(ctx context.Context, path, table string, pageSize int) (*SQLiteSource, error) {
	if table == "" {
		table = DefaultTable
	}

	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite dataset %s: %w", path, err)
	}

	pingErr := db.PingContext(ctx)
	if pingErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open sqlite dataset %s: %w", path, pingErr)
	}

	return &SQLiteSource{db: db, path: path, table: table, pageSize: pageSize}, nil
}

// Metadata implements Source.
func (s *SQLiteSource) Metadata(ctx context.Context) (Metadata, error) {
	var count int

	//nolint:gosec // table name is validated against tableName.
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&count)
	if err != nil {
		return Metadata{}, fmt.Errorf("count %s: %w", s.table, err)
	}

	return Metadata{ID: SQLitePrefix + s.path + "#" + s.table, TotalCount: count}, nil
}

// ForEach implements Source. The first page skips offset rows; later pages
// continue after the last id seen.
func (s *SQLiteSource) ForEach(ctx context.Context, offset int, visit func(Record) error) error {
	err := checkOffset(offset)
	if err != nil {
		return err
	}

	//nolint:gosec // table name is validated against tableName.
	first := "SELECT id, data FROM " + s.table + " ORDER BY id LIMIT ? OFFSET ?"
	//nolint:gosec // table name is validated against tableName.
	next := "SELECT id, data FROM " + s.table + " WHERE id > ? ORDER BY id LIMIT ?"

	rows, err := s.db.QueryContext(ctx, first, s.pageSize, offset)

	for {
		if err != nil {
			return fmt.Errorf("query %s: %w", s.table, err)
		}

		lastID, n, pageErr := s.visitPage(rows, offset, visit)
		if pageErr != nil {
			return pageErr
		}

		if n < s.pageSize {
			return nil
		}

		offset += n

		rows, err = s.db.QueryContext(ctx, next, lastID, s.pageSize)
	}
}

func (s *SQLiteSource) visitPage(rows *sql.Rows, base int, visit func(Record) error) (lastID int64, n int, err error) {
	defer rows.Close()

	for rows.Next() {
		var raw string

		scanErr := rows.Scan(&lastID, &raw)
		if scanErr != nil {
			return 0, n, fmt.Errorf("scan %s: %w", s.table, scanErr)
		}

		rec, decodeErr := decodeRecord([]byte(raw))
		if decodeErr != nil {
			return 0, n, fmt.Errorf("record %d (id %d): %w", base+n, lastID, decodeErr)
		}

		visitErr := visit(rec)
		if visitErr != nil {
			return 0, n, visitErr
		}

		n++
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return 0, n, fmt.Errorf("read %s: %w", s.table, rowsErr)
	}

	return lastID, n, nil
}

// Close implements Source.
func (s *SQLiteSource) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite dataset: %w", err)
	}

	return nil
}
