// Package embedcache memoizes candidate embeddings in SQLite, keyed by the
// SHA-256 of the image bytes, so unchanged corpus images are embedded once.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"gate-service/internal/vision"
)

// Cache implements vision.Embedder on top of another embedder.
type Cache struct {
	db   *sql.DB
	next vision.Embedder
	log  zerolog.Logger
}

// Open opens or creates the cache database at dbPath.
func Open(dbPath string, next vision.Embedder, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	c := &Cache{db: db, next: next, log: log}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS embeddings (
		digest     TEXT PRIMARY KEY,
		dims       INTEGER NOT NULL,
		vector     BLOB NOT NULL,
		created_at TEXT NOT NULL
	);`)
	return err
}

func (c *Cache) Embed(ctx context.Context, img []byte) (vision.Vector, error) {
	sum := sha256.Sum256(img)
	digest := hex.EncodeToString(sum[:])

	var blob []byte
	err := c.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE digest = ?`, digest).Scan(&blob)
	switch {
	case err == nil:
		return decode(blob), nil
	case !errors.Is(err, sql.ErrNoRows):
		c.log.Warn().Err(err).Msg("embedding cache read failed")
	}

	vec, err := c.next.Embed(ctx, img)
	if err != nil {
		return nil, err
	}
	if _, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (digest, dims, vector, created_at) VALUES (?, ?, ?, ?)`,
		digest, len(vec), encode(vec), time.Now().UTC().Format(time.RFC3339)); err != nil {
		c.log.Warn().Err(err).Msg("embedding cache write failed")
	}
	return vec, nil
}

// Len returns the number of cached vectors.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func encode(v vision.Vector) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decode(b []byte) vision.Vector {
	v := make(vision.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
