// Package store implements the index store (§4.3): a Postgres-backed
// keyed-range persistent store for blocks, transactions and P2TR
// outputs, with idempotent block insert, batched transactional output
// insertion, and the composite fingerprint+height scan the query path
// depends on.
package store

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SakshamSinghal20/Whisper/internal/errs"
	"github.com/SakshamSinghal20/Whisper/pkg/models"
)

// wrapStoreErr classifies a store-layer failure: a context deadline
// exceeded while a round trip was in flight is a Timeout per §5/§7, not a
// generic StoreUnavailable — the caller's deadline expired, the store
// itself may be perfectly healthy.
func wrapStoreErr(err error, kind errs.Kind, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.Timeout, err, msg)
	}
	return errs.Wrap(kind, err, msg)
}

//go:embed schema.sql
var schemaSQL string

// MaxFingerprints and MaxHeightSpan bound a single scan query, per §4.3:
// F may contain up to 1,000 entries; the height window may span up to
// 1,000 blocks.
const (
	MaxFingerprints = 1000
	MaxHeightSpan   = 1000
)

// Store wraps a pgx connection pool. A zero Store is not usable; construct
// one with Connect.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection to Postgres and verifies reachability.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, err, "unable to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.StoreUnavailable, err, "ping failed")
	}
	log.Println("[Store] connected to index store")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the embedded migration. It is idempotent: every
// statement uses IF NOT EXISTS.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return errs.Wrap(errs.StoreUnavailable, err, "schema migration failed")
	}
	log.Println("[Store] schema initialized")
	return nil
}

// InsertBlock persists a parsed block, its transactions, and every P2TR
// output in one atomic batch. Inserting a height that already exists
// with the same hash is a silent no-op; the same height under a
// different hash, or the same hash under a different height, fails with
// StoreConflict.
func (s *Store) InsertBlock(ctx context.Context, pb *models.ParsedBlock) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.StoreBusy, err, "begin transaction failed")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`INSERT INTO blocks (height, hash, header) VALUES ($1, $2, $3)
		 ON CONFLICT (height) DO NOTHING`,
		pb.Height, pb.Hash[:], pb.Header[:])
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errs.Wrap(errs.StoreConflict, err, "block hash already indexed under a different height")
		}
		return errs.Wrap(errs.StoreUnavailable, err, "insert block failed")
	}

	if ct.RowsAffected() == 0 {
		var existingHash []byte
		if err := tx.QueryRow(ctx, `SELECT hash FROM blocks WHERE height = $1`, pb.Height).Scan(&existingHash); err != nil {
			return errs.Wrap(errs.StoreUnavailable, err, "consistency check query failed")
		}
		if !bytes.Equal(existingHash, pb.Hash[:]) {
			return errs.Newf(errs.StoreConflict, "height %d already indexed with a different hash", pb.Height)
		}
		return tx.Commit(ctx)
	}

	if err := insertTxsAndOutputs(ctx, tx, pb); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.StoreUnavailable, err, "commit failed")
	}
	return nil
}

func insertTxsAndOutputs(ctx context.Context, tx pgx.Tx, pb *models.ParsedBlock) error {
	batch := &pgx.Batch{}
	for _, t := range pb.Txs {
		txID := t.TxID
		batch.Queue(
			`INSERT INTO transactions (tx_id, block_height, tx_index, is_coinbase, raw_bytes)
			 VALUES ($1, $2, $3, $4, $5)`,
			txID[:], pb.Height, t.Index, t.IsCoinbase, t.RawBytes)

		for _, o := range t.Outputs {
			batch.Queue(
				`INSERT INTO outputs (tx_id, vout, block_height, script_pubkey, amount, x_only_key, fingerprint)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				txID[:], o.Vout, o.BlockHeight, o.ScriptPubKey[:], o.Amount, o.XOnlyKey[:], int64(o.Fingerprint))
		}
	}

	if batch.Len() == 0 {
		return nil
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return errs.Wrap(errs.StoreUnavailable, err, "batch insert failed")
		}
	}
	return nil
}

// TipHeight returns the height of the highest non-orphaned block, or
// zero if the store is empty.
func (s *Store) TipHeight(ctx context.Context) (int32, error) {
	var height *int32
	err := s.pool.QueryRow(ctx, `SELECT MAX(height) FROM blocks WHERE is_orphaned = false`).Scan(&height)
	if err != nil {
		return 0, errs.Wrap(errs.StoreUnavailable, err, "tip height query failed")
	}
	if height == nil {
		return 0, nil
	}
	return *height, nil
}

// MarkOrphan flips a block's orphan flag. It is the only mutation ever
// applied to an already-persisted block.
func (s *Store) MarkOrphan(ctx context.Context, height int32) error {
	ct, err := s.pool.Exec(ctx, `UPDATE blocks SET is_orphaned = true WHERE height = $1`, height)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, err, "mark orphan failed")
	}
	if ct.RowsAffected() == 0 {
		return errs.Newf(errs.BadRequest, "no block at height %d", height)
	}
	return nil
}

// Query consults the composite (fingerprint, block-height) index for
// every output matching a fingerprint in fps within [start, end],
// restricted to non-orphaned blocks. It also reports every non-orphaned
// height in range, per the wire API's scanned_blocks field. Both reads
// share one snapshot so the result cannot straddle a mid-query commit.
func (s *Store) Query(ctx context.Context, fps [][4]byte, start, end int32) ([]models.Candidate, []uint32, error) {
	if err := validateQueryBounds(fps, start, end); err != nil {
		return nil, nil, err
	}

	fpInts := make([]int64, len(fps))
	for i, fp := range fps {
		fpInts[i] = int64(uint32(fp[0])<<24 | uint32(fp[1])<<16 | uint32(fp[2])<<8 | uint32(fp[3]))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, wrapStoreErr(err, errs.StoreBusy, "begin read transaction failed")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT o.tx_id, o.vout, o.amount, o.script_pubkey, o.block_height, b.hash,
		       extract(epoch FROM b.created_at)::bigint
		FROM outputs o
		JOIN blocks b ON b.height = o.block_height
		WHERE o.fingerprint = ANY($1) AND o.block_height BETWEEN $2 AND $3 AND b.is_orphaned = false`,
		fpInts, start, end)
	if err != nil {
		return nil, nil, wrapStoreErr(err, errs.StoreUnavailable, "candidate query failed")
	}

	var candidates []models.Candidate
	for rows.Next() {
		var (
			txID, script, blockHash []byte
			vout, height            int32
			amount, blockTime       int64
		)
		if err := rows.Scan(&txID, &vout, &amount, &script, &height, &blockHash, &blockTime); err != nil {
			rows.Close()
			return nil, nil, wrapStoreErr(err, errs.StoreUnavailable, "candidate row scan failed")
		}
		c := models.Candidate{
			Vout:        uint32(vout),
			Amount:      amount,
			BlockHeight: height,
			BlockTime:   blockTime,
		}
		copy(c.TxID[:], txID)
		copy(c.ScriptPubKey[:], script)
		copy(c.BlockHash[:], blockHash)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, wrapStoreErr(err, errs.StoreUnavailable, "candidate rows iteration failed")
	}
	rows.Close()

	heightRows, err := tx.Query(ctx,
		`SELECT height FROM blocks WHERE height BETWEEN $1 AND $2 AND is_orphaned = false ORDER BY height`,
		start, end)
	if err != nil {
		return nil, nil, wrapStoreErr(err, errs.StoreUnavailable, "scanned-heights query failed")
	}
	var scanned []uint32
	for heightRows.Next() {
		var h int32
		if err := heightRows.Scan(&h); err != nil {
			heightRows.Close()
			return nil, nil, wrapStoreErr(err, errs.StoreUnavailable, "scanned-heights row scan failed")
		}
		scanned = append(scanned, uint32(h))
	}
	if err := heightRows.Err(); err != nil {
		heightRows.Close()
		return nil, nil, wrapStoreErr(err, errs.StoreUnavailable, "scanned-heights rows iteration failed")
	}
	heightRows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, wrapStoreErr(err, errs.StoreUnavailable, "commit read transaction failed")
	}
	return candidates, scanned, nil
}

// validateQueryBounds enforces the §4.3 scan bounds before any round
// trip to the database: up to 1,000 fingerprints, and a height window
// spanning at most 1,000 blocks.
func validateQueryBounds(fps [][4]byte, start, end int32) error {
	if len(fps) == 0 || len(fps) > MaxFingerprints {
		return errs.Newf(errs.BadRequest, "fingerprint count %d out of bounds", len(fps))
	}
	if end < start || int64(end)-int64(start) > MaxHeightSpan {
		return errs.Newf(errs.BadRequest, "height span [%d,%d] out of bounds", start, end)
	}
	return nil
}
