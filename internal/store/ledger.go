package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/ledger"
)

// LatestHeight implements ledger.Client. It returns the highest sealed height.
func (s *Store) LatestHeight(ctx context.Context) (uint64, error) {
	var tip int64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&tip); err != nil {
		return 0, fmt.Errorf("latest height: %w", err)
	}
	return uint64(tip), nil
}

// Submit implements ledger.Client. The blob is sealed alone in a new block at
// tip+1. An unknown app id is a permanent failure.
func (s *Store) Submit(ctx context.Context, appID ledger.AppID, data []byte) (uint64, error) {
	height, err := s.submit(ctx, appID, data)
	if err != nil {
		return 0, &ledger.SubmitError{AppID: appID, Err: err}
	}
	return height, nil
}

func (s *Store) submit(ctx context.Context, appID ledger.AppID, data []byte) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var known int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM apps WHERE id = ?`, appID).Scan(&known); err != nil {
		return 0, fmt.Errorf("check app: %w", err)
	}
	if known == 0 {
		return 0, ledger.Permanent(fmt.Errorf("app id %d is not registered", appID))
	}

	var tip int64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&tip); err != nil {
		return 0, fmt.Errorf("read tip: %w", err)
	}
	height := tip + 1

	if _, err := tx.ExecContext(ctx, `INSERT INTO blocks (height) VALUES (?)`, height); err != nil {
		return 0, fmt.Errorf("seal block %d: %w", height, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO blobs (height, app_id, idx, data, digest)
		VALUES (?, ?, 0, ?, ?)
	`, height, appID, data, envelope.Digest(data))
	if err != nil {
		return 0, fmt.Errorf("insert blob: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return uint64(height), nil
}

// Fetch implements ledger.Client. Blobs are returned in index order; a sealed
// height with no blobs for appID returns an empty slice. Heights above the tip
// are an error.
func (s *Store) Fetch(ctx context.Context, height uint64, appID ledger.AppID) ([][]byte, error) {
	blobs, err := s.fetch(ctx, height, appID)
	if err != nil {
		return nil, &ledger.FetchError{Height: height, AppID: appID, Err: err}
	}
	return blobs, nil
}

func (s *Store) fetch(ctx context.Context, height uint64, appID ledger.AppID) ([][]byte, error) {
	var sealed int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE height = ?`, int64(height)).Scan(&sealed)
	if err != nil {
		return nil, fmt.Errorf("check block: %w", err)
	}
	if sealed == 0 {
		return nil, fmt.Errorf("height %d is not sealed", height)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data
		FROM blobs
		WHERE app_id = ? AND height = ?
		ORDER BY idx ASC
	`, appID, int64(height))
	if err != nil {
		return nil, fmt.Errorf("query blobs: %w", err)
	}
	defer rows.Close()

	blobs := [][]byte{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		blobs = append(blobs, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blobs: %w", err)
	}
	return blobs, nil
}

// ResolveOrCreate implements ledger.Resolver. Unknown names are registered
// with the next free app id, starting at 1.
func (s *Store) ResolveOrCreate(ctx context.Context, appName string) (ledger.AppID, error) {
	if appName == "" {
		return 0, &ledger.ResolutionError{AppName: appName, Err: errors.New("app name must not be empty")}
	}
	id, err := s.resolveOrCreate(ctx, appName)
	if err != nil {
		return 0, &ledger.ResolutionError{AppName: appName, Err: err}
	}
	return id, nil
}

func (s *Store) resolveOrCreate(ctx context.Context, appName string) (ledger.AppID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM apps WHERE name = ?`, appName).Scan(&id)
	switch {
	case err == nil:
		return ledger.AppID(id), nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("lookup app: %w", err)
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO apps (name) VALUES (?)`, appName)
	if err != nil {
		return 0, fmt.Errorf("register app: %w", err)
	}
	id, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("register app: get id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return ledger.AppID(id), nil
}

// Namespaces returns every registered namespace ordered by app id.
func (s *Store) Namespaces(ctx context.Context) ([]ledger.Namespace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM apps ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query apps: %w", err)
	}
	defer rows.Close()

	namespaces := []ledger.Namespace{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		namespaces = append(namespaces, ledger.Namespace{Name: name, AppID: ledger.AppID(id)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apps: %w", err)
	}
	return namespaces, nil
}

// Mine seals n empty blocks and returns the new tip.
func (s *Store) Mine(ctx context.Context, n uint64) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mine: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var tip int64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&tip); err != nil {
		return 0, fmt.Errorf("mine: read tip: %w", err)
	}
	for i := uint64(0); i < n; i++ {
		tip++
		if _, err := tx.ExecContext(ctx, `INSERT INTO blocks (height) VALUES (?)`, tip); err != nil {
			return 0, fmt.Errorf("mine: seal block %d: %w", tip, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mine: commit: %w", err)
	}
	return uint64(tip), nil
}
