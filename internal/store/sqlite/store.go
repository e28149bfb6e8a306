// Package sqlite persists the in-memory store to a single SQLite file. The
// full state is snapshotted, one JSON blob per bucket, inside the commit of
// every write transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/medisphere/medisphere/internal/store/memory"
)

const DefaultPath = "medisphere.db"

var buckets = []string{"meta", "wards", "beds", "allocations", "bills", "appointments"}

type meta struct {
	Seq int64 `json:"seq"`
}

// Store is a memory.Store whose committed state survives restarts.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

func Open(path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	s := &Store{db: db, path: path}
	snapshot, err := s.load()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	opts = append(opts, memory.WithSnapshot(snapshot), memory.WithCommitHook(s.persist))
	s.Store = memory.New(opts...)
	return s, nil
}

func (s *Store) load() (*memory.Snapshot, error) {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := &memory.Snapshot{}
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		found = true
		var target interface{}
		switch bucket {
		case "meta":
			var m meta
			if err := json.Unmarshal(payload, &m); err != nil {
				return nil, fmt.Errorf("decode meta: %w", err)
			}
			snapshot.Seq = m.Seq
			continue
		case "wards":
			target = &snapshot.Wards
		case "beds":
			target = &snapshot.Beds
		case "allocations":
			target = &snapshot.Allocations
		case "bills":
			target = &snapshot.Bills
		case "appointments":
			target = &snapshot.Appointments
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if !found {
		return nil, nil
	}
	return snapshot, nil
}

func (s *Store) persist(snapshot *memory.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case "meta":
			data, err = json.Marshal(meta{Seq: snapshot.Seq})
		case "wards":
			data, err = json.Marshal(snapshot.Wards)
		case "beds":
			data, err = json.Marshal(snapshot.Beds)
		case "allocations":
			data, err = json.Marshal(snapshot.Allocations)
		case "bills":
			data, err = json.Marshal(snapshot.Bills)
		case "appointments":
			data, err = json.Marshal(snapshot.Appointments)
		}
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket, payload) VALUES(?, ?)
			ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

// Ping checks the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}
