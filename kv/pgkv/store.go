// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pgkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/meshdir/directory-core/kv"
)

// Store is a kv.Store backed by a single PostgreSQL table plus one
// sequence for document-id allocation.
type Store struct {
	db *DB
}

// New wraps db as a kv.Store.
func New(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetValue(ctx context.Context, key []byte) ([]byte, bool, error) {
	var v []byte
	err := s.db.pool.QueryRow(ctx, `SELECT value FROM directory_kv WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pgkv: get value: %w", err)
	}
	return v, true, nil
}

func (s *Store) GetCounter(ctx context.Context, key []byte) (int64, error) {
	var v int64
	err := s.db.pool.QueryRow(ctx, `SELECT value FROM directory_counters WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("pgkv: get counter: %w", err)
	}
	return v, nil
}

func (s *Store) Iterate(ctx context.Context, begin, end []byte, withValues bool, fn kv.IterFunc) error {
	query := "SELECT key, value FROM directory_kv WHERE key >= $1"
	args := []any{begin}
	if end != nil {
		query += " AND key < $2"
		args = append(args, end)
	}
	query += " ORDER BY key ASC"

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pgkv: iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("pgkv: scan row: %w", err)
		}
		if !withValues {
			v = nil
		}
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return rows.Err()
}

// Write commits batch inside one transaction. Assertions are checked
// with SELECT ... FOR UPDATE so a concurrent writer touching the same
// key blocks until this transaction commits or rolls back, rather than
// racing the assertion check itself.
func (s *Store) Write(ctx context.Context, batch *kv.Batch) (*kv.BatchResult, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgkv: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	for _, op := range batch.Ops {
		switch op.Kind {
		case kv.OpAssertValue:
			key := op.KeyFn(0)
			want := op.ValueFn(0)
			var got []byte
			err := tx.QueryRow(ctx, `SELECT value FROM directory_kv WHERE key = $1 FOR UPDATE`, key).Scan(&got)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, kv.ErrAssertionFailed
				}
				return nil, fmt.Errorf("pgkv: assert value: %w", err)
			}
			if !bytes.Equal(got, want) {
				return nil, kv.ErrAssertionFailed
			}
		case kv.OpAssertAbsent:
			key := op.KeyFn(0)
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM directory_kv WHERE key = $1 FOR UPDATE)`, key,
			).Scan(&exists)
			if err != nil {
				return nil, fmt.Errorf("pgkv: assert absent: %w", err)
			}
			if exists {
				return nil, kv.ErrAssertionFailed
			}
		}
	}

	var newID uint32
	if batch.WantsNewID {
		var id int64
		if err := tx.QueryRow(ctx, `SELECT nextval('directory_document_ids')`).Scan(&id); err != nil {
			return nil, fmt.Errorf("pgkv: allocate document id: %w", err)
		}
		newID = uint32(id)
	}

	for _, op := range batch.Ops {
		switch op.Kind {
		case kv.OpSet:
			key := op.KeyFn(newID)
			value := op.ValueFn(newID)
			_, err := tx.Exec(ctx, `
				INSERT INTO directory_kv (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
			`, key, value)
			if err != nil {
				return nil, fmt.Errorf("pgkv: set: %w", err)
			}
		case kv.OpClear:
			key := op.KeyFn(newID)
			if _, err := tx.Exec(ctx, `DELETE FROM directory_kv WHERE key = $1`, key); err != nil {
				return nil, fmt.Errorf("pgkv: clear: %w", err)
			}
		case kv.OpAdd:
			key := op.KeyFn(newID)
			_, err := tx.Exec(ctx, `
				INSERT INTO directory_counters (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO UPDATE SET value = directory_counters.value + EXCLUDED.value
			`, key, op.Delta)
			if err != nil {
				return nil, fmt.Errorf("pgkv: add: %w", err)
			}
		case kv.OpAssertValue, kv.OpAssertAbsent:
			// already validated above
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgkv: commit: %w", err)
	}

	if batch.WantsNewID {
		return kv.NewBatchResult(newID), nil
	}
	return kv.NewEmptyBatchResult(), nil
}
