package embed

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Cache stores computed embeddings keyed by encoder model and text content,
// so re-training and auditing do not re-encode an unchanged corpus.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the embedding cache database.
func OpenCache(dbPath string) (*Cache, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS embeddings (
		key    TEXT PRIMARY KEY,
		model  TEXT NOT NULL,
		dim    INTEGER NOT NULL,
		vector BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached embedding for (model, text), or nil when absent.
func (c *Cache) Get(ctx context.Context, encoderModel, text string) ([]float64, error) {
	var dim int
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT dim, vector FROM embeddings WHERE key = ?",
		cacheKey(encoderModel, text),
	).Scan(&dim, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}
	return decodeVector(blob, dim)
}

// Put stores an embedding for (model, text).
func (c *Cache) Put(ctx context.Context, encoderModel, text string, vector []float64) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO embeddings (key, model, dim, vector) VALUES (?, ?, ?, ?)",
		cacheKey(encoderModel, text), encoderModel, len(vector), encodeVector(vector),
	)
	if err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}

// Size returns the number of cached embeddings.
func (c *Cache) Size(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embedding cache: %w", err)
	}
	return n, nil
}

func cacheKey(encoderModel, text string) string {
	h := sha256.Sum256([]byte(encoderModel + "\x00" + text))
	return hex.EncodeToString(h[:])
}

func encodeVector(vector []float64) []byte {
	buf := make([]byte, 8*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeVector(blob []byte, dim int) ([]float64, error) {
	if len(blob) != dim*8 {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes for dim %d", len(blob), dim)
	}
	out := make([]float64, dim)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return out, nil
}
