package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/chunkkeep/internal/world"
	"golang.org/x/crypto/blake2b"
)

// ErrChecksum is returned when a stored chunk does not match its checksum.
var ErrChecksum = errors.New("persist: chunk checksum mismatch")

// ChunkRepo stores chunk payloads keyed by world UID and chunk coordinate.
// It satisfies world.ChunkStore.
type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// LoadChunk returns the stored payload. ok is false when the chunk was never saved.
func (r *ChunkRepo) LoadChunk(ctx context.Context, worldUID uuid.UUID, cx, cz int32) ([]byte, bool, error) {
	var data, sum []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data, checksum FROM chunks WHERE world_uid = $1 AND cx = $2 AND cz = $3`,
		worldUID, cx, cz,
	).Scan(&data, &sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	want := blake2b.Sum256(data)
	if string(want[:]) != string(sum) {
		return nil, false, fmt.Errorf("chunk [%d, %d] on %s: %w", cx, cz, worldUID, ErrChecksum)
	}
	return data, true, nil
}

// SaveBatch upserts all records in a single transaction.
func (r *ChunkRepo) SaveBatch(ctx context.Context, records []world.ChunkRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chunk batch begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range records {
		sum := blake2b.Sum256(rec.Data)
		batch.Queue(
			`INSERT INTO chunks (world_uid, world_name, cx, cz, data, checksum)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (world_uid, cx, cz) DO UPDATE
			 SET world_name = EXCLUDED.world_name, data = EXCLUDED.data,
			     checksum = EXCLUDED.checksum, saved_at = now()`,
			rec.World, rec.Name, rec.Pos.X, rec.Pos.Z, rec.Data, sum[:],
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("chunk batch insert: %w", err)
	}
	return tx.Commit(ctx)
}

// Count returns the number of chunks stored for a world.
func (r *ChunkRepo) Count(ctx context.Context, worldUID uuid.UUID) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE world_uid = $1`, worldUID,
	).Scan(&n)
	return n, err
}

// DeleteWorld removes every stored chunk of a world.
func (r *ChunkRepo) DeleteWorld(ctx context.Context, worldUID uuid.UUID) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE world_uid = $1`, worldUID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
