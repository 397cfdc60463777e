package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"path"
	"sort"
	"strings"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"guildwarden/internal/fault"
)

//go:embed migrations/*.sql
var migrations embed.FS

// conn carries the query helpers shared by Store and Tx.
type conn struct {
	ext sqlx.ExtContext
}

type Store struct {
	conn
	db *sqlx.DB
}

// Tx is a Store bound to one database transaction. Every method available on
// Store is available on Tx.
type Tx struct {
	conn
}

func Open(driverName, dsn string) (*Store, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, classify("open", err)
	}
	if driverName == "sqlite" {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, classify("pragma", err)
		}
	}
	return &Store{conn: conn{ext: db}, db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.Exec(stmt); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return errors.WrapIff(err, "migration %s failed", file)
			}
		}
	}
	return nil
}

// Tx runs fn inside a transaction. fn must only use the Tx it is given.
func (s *Store) Tx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{conn: conn{ext: sqlTx}}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (c conn) get(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) (bool, error) {
	err := sqlx.GetContext(ctx, c.ext, dest, c.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(op, err)
	}
	return true, nil
}

func (c conn) all(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) error {
	return classify(op, sqlx.SelectContext(ctx, c.ext, dest, c.ext.Rebind(query), args...))
}

func (c conn) exec(ctx context.Context, op string, query string, args ...interface{}) (int64, error) {
	res, err := c.ext.ExecContext(ctx, c.ext.Rebind(query), args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c conn) count(ctx context.Context, op string, query string, args ...interface{}) (int, error) {
	var n int
	if _, err := c.get(ctx, op, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// classify maps driver errors onto the fault taxonomy. Constraint violations
// are integrity problems; everything else is treated as the store being
// unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if fault.KindOf(err) != fault.Unknown {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fault.Wrap(fault.IntegrityViolation, err, op)
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "constraint") || strings.Contains(message, "unique") {
		return fault.Wrap(fault.IntegrityViolation, err, op)
	}
	return fault.Wrap(fault.StoreUnavailable, err, op)
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.Errorf("unsupported json column type %T", src)
	}
}

func valueJSON(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// StringList is a JSON encoded list of ids.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]string(l))
}

func (l *StringList) Scan(src interface{}) error {
	*l = nil
	return scanJSON(src, (*[]string)(l))
}

func (l StringList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

func (l StringList) Without(id string) StringList {
	out := make(StringList, 0, len(l))
	for _, v := range l {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
