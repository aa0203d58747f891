package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mwalters/cachedns/internal/dns/common/log"
	"github.com/mwalters/cachedns/internal/dns/domain"
	"github.com/mwalters/cachedns/internal/dns/wire"
)

const schema = `CREATE TABLE IF NOT EXISTS cache (
	name TEXT NOT NULL,
	type INTEGER NOT NULL,
	ttl INTEGER NOT NULL,
	insertion_time INTEGER NOT NULL,
	data BLOB NOT NULL,
	ns TEXT
)`

// SQLiteStore is the durable Store implementation, backed by a single
// table opened lazily against a file path. It matches the relational
// schema cache(name, type, ttl, insertion_time, data, ns) exactly.
type SQLiteStore struct {
	path string
	log  log.Logger

	once sync.Once
	db   *sql.DB
	err  error
}

// NewSQLiteStore returns a Store that opens path on first use.
func NewSQLiteStore(path string, logger log.Logger) *SQLiteStore {
	return &SQLiteStore{path: path, log: logger}
}

func (s *SQLiteStore) open() (*sql.DB, error) {
	s.once.Do(func() {
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", s.path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			s.err = fmt.Errorf("open cache db: %w", err)
			return
		}
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			s.err = fmt.Errorf("create cache table: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.err
}

// Sweep deletes every row whose TTL has elapsed as of now.
func (s *SQLiteStore) Sweep(ctx context.Context, now int64) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM cache WHERE (? - insertion_time) > ttl`, now)
	return err
}

// Insert writes row, first deleting any existing row sharing its
// (name, type, ns) key, inside one transaction so the delete and insert
// are atomic.
func (s *SQLiteStore) Insert(ctx context.Context, row Row, now int64) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache WHERE lower(name) = lower(?) AND type = ? AND ns IS ?`,
		row.Name, uint16(row.Type), nsValue(row.NS),
	); err != nil {
		return fmt.Errorf("delete existing cache row: %w", err)
	}

	if row.InsertionTime == 0 {
		row.InsertionTime = now
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache (name, type, ttl, insertion_time, data, ns) VALUES (?, ?, ?, ?, ?, ?)`,
		row.Name, uint16(row.Type), row.TTL, row.InsertionTime, row.Data, nsValue(row.NS),
	); err != nil {
		return fmt.Errorf("insert cache row: %w", err)
	}

	return tx.Commit()
}

// nsValue maps an empty NS field to SQL NULL so non-NS rows compare
// correctly under "ns IS ?" rather than matching every other empty row.
func nsValue(ns string) any {
	if ns == "" {
		return nil
	}
	return ns
}

// LookupAnswer returns every non-expired row for (name, type),
// case-insensitively.
func (s *SQLiteStore) LookupAnswer(ctx context.Context, name string, rtype uint16, now int64) ([]Row, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT name, type, ttl, insertion_time, data, COALESCE(ns, '') FROM cache
		 WHERE lower(name) = lower(?) AND type = ? AND (? - insertion_time) <= ttl`,
		name, rtype, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// LookupDelegate returns delegations for suffix: NS rows named suffix
// joined with A rows for their ns target, ordered randomly per the
// tie-break rule, restricted to live rows on both sides.
func (s *SQLiteStore) LookupDelegate(ctx context.Context, suffix string, now int64) ([]Delegation, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT ns.name, a.data
		 FROM cache AS ns
		 JOIN cache AS a
		   ON lower(a.name) = lower(ns.ns) AND a.type = ?
		 WHERE ns.type = ? AND lower(ns.name) = lower(?)
		   AND (? - ns.insertion_time) <= ns.ttl
		   AND (? - a.insertion_time) <= a.ttl
		 ORDER BY RANDOM()`,
		uint16(domain.RRTypeA), uint16(domain.RRTypeNS), suffix, now, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delegation
	for rows.Next() {
		var zone string
		var data []byte
		if err := rows.Scan(&zone, &data); err != nil {
			return nil, err
		}
		rec, err := wire.DecodeRecord(data)
		if err != nil {
			continue
		}
		ip := rec.AsIP()
		if ip == nil {
			continue
		}
		out = append(out, Delegation{Zone: zone, Addr: ip.String()})
	}
	return out, rows.Err()
}

// Stat reports the current count of live rows.
func (s *SQLiteStore) Stat(ctx context.Context, now int64) (int, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache WHERE (? - insertion_time) <= ttl`, now).Scan(&count)
	return count, err
}

// Dump returns up to limit live rows starting at offset, ordered by
// name for stable pagination.
func (s *SQLiteStore) Dump(ctx context.Context, now int64, offset, limit int) ([]Row, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, ttl, insertion_time, data, COALESCE(ns, '') FROM cache
		 WHERE (? - insertion_time) <= ttl
		 ORDER BY name LIMIT ? OFFSET ?`,
		now, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		var rtype uint16
		if err := rows.Scan(&r.Name, &rtype, &r.TTL, &r.InsertionTime, &r.Data, &r.NS); err != nil {
			return nil, err
		}
		r.Type = domain.RRType(rtype)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle, if one was opened.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
