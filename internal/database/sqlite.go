package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cr-go/internal/cr"
	"cr-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteDatabase implements cr.Store and cr.PermissionEvaluator on SQLite.
// A value returned by InTx is bound to that transaction.
type SQLiteDatabase struct {
	db   *sql.DB
	q    querier
	tx   *sql.Tx
	path string
}

// NewSQLiteDatabase opens the database at path (or ":memory:") and applies
// pending migrations.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDatabase{db: db, q: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection. The schema is
// expected to be in place.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db, q: db}
}

// OpenConnection opens a SQLite database with foreign keys enforced on every
// connection. The pool is capped at one connection: a ":memory:" database
// exists per connection, and SQLite only admits one writer anyway.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_foreign_keys=on&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// InTx runs fn inside one transaction. Nested calls join the outer one.
func (s *SQLiteDatabase) InTx(ctx context.Context, fn func(tx cr.Store) error) error {
	return s.withTx(ctx, func(tx *SQLiteDatabase) error { return fn(tx) })
}

func (s *SQLiteDatabase) withTx(ctx context.Context, fn func(tx *SQLiteDatabase) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLiteDatabase{db: s.db, q: tx, tx: tx, path: s.path}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Nodes

const nodeColumns = "id, name, master_id, root_id, pub_dir_segment, root_folder_id, created_at"

func scanNode(row interface{ Scan(...any) error }) (*cr.Node, error) {
	var (
		n      cr.Node
		master sql.NullInt64
	)
	if err := row.Scan(&n.ID, &n.Name, &master, &n.RootID, &n.PubDirSegment, &n.RootFolderID, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.MasterID = cr.NodeID(master.Int64)
	return &n, nil
}

func (s *SQLiteDatabase) CreateNode(ctx context.Context, node *cr.Node) error {
	return s.withTx(ctx, func(tx *SQLiteDatabase) error {
		var master sql.NullInt64
		if node.MasterID != 0 {
			master = sql.NullInt64{Int64: int64(node.MasterID), Valid: true}
		}
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO nodes (name, master_id, root_id, pub_dir_segment, root_folder_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			node.Name, master, node.RootID, node.PubDirSegment, node.RootFolderID, node.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting node: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading node id: %w", err)
		}
		node.ID = cr.NodeID(id)

		if node.MasterID == 0 {
			node.RootID = node.ID
			if _, err := tx.q.ExecContext(ctx, "UPDATE nodes SET root_id = ? WHERE id = ?", node.RootID, node.ID); err != nil {
				return fmt.Errorf("setting root id: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteDatabase) FindNode(ctx context.Context, id cr.NodeID) (*cr.Node, error) {
	n, err := scanNode(s.q.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding node %d: %w", id, err)
	}
	return n, nil
}

func (s *SQLiteDatabase) FindNodeByName(ctx context.Context, name string) (*cr.Node, error) {
	n, err := scanNode(s.q.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding node %q: %w", name, err)
	}
	return n, nil
}

func (s *SQLiteDatabase) LoadChildren(ctx context.Context, rootID cr.NodeID) ([]*cr.Node, error) {
	return s.queryNodes(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE root_id = ? AND master_id IS NOT NULL ORDER BY id", rootID)
}

func (s *SQLiteDatabase) ListRootNodes(ctx context.Context) ([]*cr.Node, error) {
	return s.queryNodes(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE master_id IS NULL ORDER BY id")
}

func (s *SQLiteDatabase) queryNodes(ctx context.Context, query string, args ...any) ([]*cr.Node, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var out []*cr.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) SetRootFolder(ctx context.Context, nodeID cr.NodeID, folderID cr.ObjectID) error {
	_, err := s.q.ExecContext(ctx, "UPDATE nodes SET root_folder_id = ? WHERE id = ? OR (root_id = ? AND master_id IS NOT NULL)",
		folderID, nodeID, nodeID)
	if err != nil {
		return fmt.Errorf("setting root folder of %d: %w", nodeID, err)
	}
	return nil
}

// Objects

const objectColumns = `id, channel_set_id, channel_id, node_id, folder_id, type, name,
	content_set_id, language, size, deleted, deleted_at, deleted_by, disinherit_default,
	created_at, updated_at`

func (s *SQLiteDatabase) LoadByChannelSet(ctx context.Context, channelSetID cr.ObjectID) ([]*cr.Object, error) {
	objs, err := s.queryObjects(ctx, "SELECT "+objectColumns+" FROM objects WHERE channel_set_id = ? ORDER BY id", channelSetID)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, nil
	}
	if err := s.loadDisinheritance(ctx, objs); err != nil {
		return nil, err
	}
	return objs, nil
}

// queryObjects reads all rows before returning so the single pooled
// connection is free for the next statement.
func (s *SQLiteDatabase) queryObjects(ctx context.Context, query string, args ...any) ([]*cr.Object, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	var out []*cr.Object
	for rows.Next() {
		var (
			o         cr.Object
			typ       string
			deletedAt sql.NullTime
			deletedBy string
		)
		err := rows.Scan(&o.ID, &o.ChannelSetID, &o.ChannelID, &o.NodeID, &o.FolderID, &typ, &o.Name,
			&o.ContentSetID, &o.Language, &o.Size, &o.Deleted, &deletedAt, &deletedBy,
			&o.Disinheritance.Default, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning object: %w", err)
		}
		o.Type = cr.ObjectType(typ)
		o.DeletedAt = deletedAt.Time
		o.DeletedBy = cr.Principal(deletedBy)
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) loadDisinheritance(ctx context.Context, objs []*cr.Object) error {
	byID := make(map[cr.ObjectID]*cr.Object, len(objs))
	for _, o := range objs {
		byID[o.ID] = o
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT d.object_id, d.channel_id, d.included FROM object_disinherit d
		 JOIN objects o ON o.id = d.object_id
		 WHERE o.channel_set_id = ? ORDER BY d.channel_id`, objs[0].ChannelSetID)
	if err != nil {
		return fmt.Errorf("querying disinheritance: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       cr.ObjectID
			channel  cr.NodeID
			included bool
		)
		if err := rows.Scan(&id, &channel, &included); err != nil {
			return fmt.Errorf("scanning disinheritance: %w", err)
		}
		o, ok := byID[id]
		if !ok {
			continue
		}
		if included {
			o.Disinheritance.Included = append(o.Disinheritance.Included, channel)
		} else {
			o.Disinheritance.Excluded = append(o.Disinheritance.Excluded, channel)
		}
	}
	return rows.Err()
}

func (s *SQLiteDatabase) ListChildChannelSets(ctx context.Context, folderID cr.ObjectID) ([]cr.ObjectID, error) {
	return s.queryIDs(ctx, "SELECT DISTINCT channel_set_id FROM objects WHERE folder_id = ? ORDER BY channel_set_id", folderID)
}

func (s *SQLiteDatabase) ListNodeChannelSets(ctx context.Context, nodeID cr.NodeID) ([]cr.ObjectID, error) {
	return s.queryIDs(ctx, "SELECT DISTINCT channel_set_id FROM objects WHERE node_id = ? ORDER BY channel_set_id", nodeID)
}

func (s *SQLiteDatabase) ListContentSet(ctx context.Context, contentSetID int64) ([]cr.ObjectID, error) {
	return s.queryIDs(ctx,
		"SELECT DISTINCT channel_set_id FROM objects WHERE content_set_id = ? AND type = 'page' ORDER BY channel_set_id",
		contentSetID)
}

func (s *SQLiteDatabase) queryIDs(ctx context.Context, query string, args ...any) ([]cr.ObjectID, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var out []cr.ObjectID
	for rows.Next() {
		var id cr.ObjectID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) InsertObject(ctx context.Context, obj *cr.Object) error {
	return s.withTx(ctx, func(tx *SQLiteDatabase) error {
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO objects (channel_set_id, channel_id, node_id, folder_id, type, name,
				content_set_id, language, size, deleted, deleted_at, deleted_by, disinherit_default,
				created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			obj.ChannelSetID, obj.ChannelID, obj.NodeID, obj.FolderID, string(obj.Type), obj.Name,
			obj.ContentSetID, obj.Language, obj.Size, obj.Deleted, nullTime(obj.DeletedAt), string(obj.DeletedBy),
			obj.Disinheritance.Default, obj.CreatedAt, obj.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting object: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading object id: %w", err)
		}
		obj.ID = cr.ObjectID(id)

		if obj.ChannelSetID == 0 {
			obj.ChannelSetID = obj.ID
			if _, err := tx.q.ExecContext(ctx, "UPDATE objects SET channel_set_id = ? WHERE id = ?", obj.ChannelSetID, obj.ID); err != nil {
				return fmt.Errorf("setting channel set id: %w", err)
			}
		}
		return tx.writeDisinheritance(ctx, obj.ID, obj.Disinheritance)
	})
}

func (s *SQLiteDatabase) UpdateObject(ctx context.Context, obj *cr.Object) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE objects SET name = ?, size = ?, language = ?, content_set_id = ?, updated_at = ?
		 WHERE id = ?`,
		obj.Name, obj.Size, obj.Language, obj.ContentSetID, obj.UpdatedAt, obj.ID)
	if err != nil {
		return fmt.Errorf("updating object %d: %w", obj.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating object %d: %w", obj.ID, cr.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateDisinheritance(ctx context.Context, id cr.ObjectID, d cr.Disinheritance, at time.Time) error {
	return s.withTx(ctx, func(tx *SQLiteDatabase) error {
		res, err := tx.q.ExecContext(ctx,
			"UPDATE objects SET disinherit_default = ?, updated_at = ? WHERE id = ?", d.Default, at, id)
		if err != nil {
			return fmt.Errorf("updating disinheritance of %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("updating disinheritance of %d: %w", id, cr.ErrNotFound)
		}
		if _, err := tx.q.ExecContext(ctx, "DELETE FROM object_disinherit WHERE object_id = ?", id); err != nil {
			return fmt.Errorf("clearing disinheritance of %d: %w", id, err)
		}
		return tx.writeDisinheritance(ctx, id, d)
	})
}

func (s *SQLiteDatabase) writeDisinheritance(ctx context.Context, id cr.ObjectID, d cr.Disinheritance) error {
	write := func(ids []cr.NodeID, included bool) error {
		for _, ch := range ids {
			if _, err := s.q.ExecContext(ctx,
				"INSERT OR IGNORE INTO object_disinherit (object_id, channel_id, included) VALUES (?, ?, ?)",
				id, ch, included); err != nil {
				return fmt.Errorf("storing disinheritance of %d: %w", id, err)
			}
		}
		return nil
	}
	if err := write(d.Excluded, false); err != nil {
		return err
	}
	return write(d.Included, true)
}

func (s *SQLiteDatabase) RemoveObject(ctx context.Context, id cr.ObjectID) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", id); err != nil {
		return fmt.Errorf("removing object %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteDatabase) SetDeleted(ctx context.Context, ids []cr.ObjectID, deleted bool, at time.Time, by cr.Principal) error {
	deletedAt := nullTime(at)
	if !deleted {
		deletedAt, by = sql.NullTime{}, ""
	}
	return s.withTx(ctx, func(tx *SQLiteDatabase) error {
		for _, id := range ids {
			if _, err := tx.q.ExecContext(ctx,
				"UPDATE objects SET deleted = ?, deleted_at = ?, deleted_by = ? WHERE id = ?",
				deleted, deletedAt, string(by), id); err != nil {
				return fmt.Errorf("flagging object %d: %w", id, err)
			}
		}
		return nil
	})
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, parameters string) (*cr.Operation, error) {
	op := &cr.Operation{StartedAt: time.Now().UTC(), Operation: operation, Parameters: parameters, Status: "running"}
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)",
		op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := s.q.ExecContext(ctx, "UPDATE operations SET finished_at = ?, status = ? WHERE id = ?", time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*cr.Operation, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, started_at, finished_at, operation, parameters, status FROM operations ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*cr.Operation
	for rows.Next() {
		var (
			op       cr.Operation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.FinishedAt = finished.Time
		out = append(out, &op)
	}
	return out, rows.Err()
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if s.tx != nil {
		return fmt.Errorf("backing up database: not allowed inside a transaction")
	}
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection. Closing a transaction-bound value
// is a no-op.
func (s *SQLiteDatabase) Close() error {
	if s.tx != nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ cr.Store               = (*SQLiteDatabase)(nil)
	_ cr.PermissionEvaluator = (*SQLiteDatabase)(nil)
)
