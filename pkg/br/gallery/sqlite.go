package gallery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/cognicore/openbr/pkg/br/template"
)

// sqliteGallery keeps templates in a single SQLite table, in insertion order.
type sqliteGallery struct {
	db        *sql.DB
	stbl      sq.StatementBuilderType
	path      string
	blockSize int
	appending bool
	written   bool
	lastID    int64
}

func openSQLite(f template.File, blockSize int) (*sqliteGallery, error) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", f.Name)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}

	return &sqliteGallery{
		db:        db,
		stbl:      sq.StatementBuilder.RunWith(db),
		path:      f.Name,
		blockSize: blockSize,
		appending: f.GetBool("append", false),
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS templates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	features BLOB
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (g *sqliteGallery) ReadBlock(ctx context.Context) (template.List, bool, error) {
	rows, err := g.stbl.
		Select("id", "name", "metadata", "features").
		From("templates").
		Where(sq.Gt{"id": g.lastID}).
		OrderBy("id").
		Limit(uint64(g.blockSize) + 1).
		QueryContext(ctx)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var block template.List
	more := false
	for rows.Next() {
		if len(block) == g.blockSize {
			more = true
			break
		}
		var (
			id       int64
			name     string
			metadata string
			features []byte
		)
		if err := rows.Scan(&id, &name, &metadata, &features); err != nil {
			return nil, false, err
		}
		t, err := decodeRow(name, metadata, features)
		if err != nil {
			return nil, false, fmt.Errorf("row %d: %w", id, err)
		}
		block = append(block, t)
		g.lastID = id
	}
	return block, more, rows.Err()
}

func decodeRow(name, metadata string, features []byte) (template.Template, error) {
	t := template.Template{File: template.File{Name: name}}
	var args map[string]string
	if err := json.Unmarshal([]byte(metadata), &args); err != nil {
		return t, err
	}
	if len(args) > 0 {
		t.File.Args = args
	}
	if len(features) > 0 {
		if err := cbor.Unmarshal(features, &t.Features); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (g *sqliteGallery) WriteBlock(ctx context.Context, block template.List) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if !g.written && !g.appending {
		if _, err := sq.Delete("templates").RunWith(tx).ExecContext(ctx); err != nil {
			return err
		}
	}

	for _, t := range block {
		metadata, err := json.Marshal(t.File.Args)
		if err != nil {
			return err
		}
		if t.File.Args == nil {
			metadata = []byte("{}")
		}
		var features []byte
		if t.Features != nil {
			if features, err = cbor.Marshal(t.Features); err != nil {
				return err
			}
		}
		_, err = sq.Insert("templates").
			Columns("name", "metadata", "features").
			Values(t.File.Name, string(metadata), features).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	g.written = true
	return nil
}

func (g *sqliteGallery) TotalSize(ctx context.Context) (int64, error) {
	var n int64
	err := g.stbl.Select("COUNT(*)").From("templates").QueryRowContext(ctx).Scan(&n)
	return n, err
}

// Files reads identities without decoding feature payloads.
func (g *sqliteGallery) Files(ctx context.Context) (template.FileList, error) {
	rows, err := g.stbl.
		Select("name", "metadata").
		From("templates").
		OrderBy("id").
		QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out template.FileList
	for rows.Next() {
		var name, metadata string
		if err := rows.Scan(&name, &metadata); err != nil {
			return nil, err
		}
		t, err := decodeRow(name, metadata, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, t.File)
	}
	return out, rows.Err()
}

func (g *sqliteGallery) Close() error {
	return g.db.Close()
}
