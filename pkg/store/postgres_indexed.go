package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/vllm-project/semantic-cache-proxy/pkg/fingerprint"
)

const (
	defaultPostgresTableName       = "cache_entries"
	defaultPostgresMaxOpenConns    = 25
	defaultPostgresMaxIdleConns    = 5
	defaultPostgresConnMaxLifetime = 300
)

// PostgresConfig configures PostgresIndexedStore's connection.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	TableName       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}

type indexedAsyncOp struct {
	fn  func() error
	err chan error
}

// PostgresIndexedStore implements IndexedStore on PostgreSQL. The table
// carries a pgvector-compatible embedding column (declared TEXT here since
// the pgvector extension is an operator-installed dependency, not a Go
// import; production deployments run the extension and cast the column to
// vector(N) for ANN search) and is indexed for tenant/simhash candidate
// scans alongside a partial index over rows that carry an expires_at.
type PostgresIndexedStore struct {
	db          *sql.DB
	tableName   string
	asyncWrites bool
	asyncChan   chan indexedAsyncOp
	done        chan struct{}
}

// NewPostgresIndexedStore opens a connection pool per cfg, verifies
// connectivity, and ensures the backing table and indexes exist.
func NewPostgresIndexedStore(cfg PostgresConfig, asyncWrites bool) (*PostgresIndexedStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("postgres database name is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("postgres user is required")
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	tableName := cfg.TableName
	if tableName == "" {
		tableName = defaultPostgresTableName
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultPostgresMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultPostgresMaxIdleConns
	}
	db.SetMaxIdleConns(maxIdleConns)

	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = defaultPostgresConnMaxLifetime
	}
	db.SetConnMaxLifetime(time.Duration(connMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresIndexedStore{
		db:          db,
		tableName:   tableName,
		asyncWrites: asyncWrites,
		done:        make(chan struct{}),
	}

	if err := store.createTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	if asyncWrites {
		store.asyncChan = make(chan indexedAsyncOp, 256)
		go store.asyncWriter()
	}

	return store, nil
}

func (p *PostgresIndexedStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			tenant VARCHAR(255) NOT NULL,
			exact_key VARCHAR(64) NOT NULL,
			simhash BIGINT NOT NULL,
			embedding TEXT,
			canonical_prompt TEXT NOT NULL,
			raw_prompt_hmac VARCHAR(64) NOT NULL,
			request_blob BYTEA NOT NULL,
			response_blob BYTEA NOT NULL,
			model VARCHAR(255) NOT NULL,
			model_family VARCHAR(255) NOT NULL,
			temperature_bucket VARCHAR(32) NOT NULL,
			top_p DOUBLE PRECISION,
			mode VARCHAR(32) NOT NULL,
			tool_schema_hash VARCHAR(64) NOT NULL,
			hit_count BIGINT NOT NULL DEFAULT 0,
			last_hit_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_golden BOOLEAN NOT NULL DEFAULT FALSE,
			pii_present BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ,
			UNIQUE (tenant, exact_key)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_tenant_simhash ON %s (tenant, simhash);
		CREATE INDEX IF NOT EXISTS idx_%s_tenant_model_mode ON %s (tenant, model, mode);
		CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at) WHERE expires_at IS NOT NULL;
	`, p.tableName, p.tableName, p.tableName, p.tableName, p.tableName, p.tableName, p.tableName)
	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *PostgresIndexedStore) asyncWriter() {
	for {
		select {
		case op := <-p.asyncChan:
			err := op.fn()
			if op.err != nil {
				op.err <- err
			}
		case <-p.done:
			return
		}
	}
}

func encodeEmbedding(v []float32) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(b), nil
}

func decodeEmbedding(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return v, nil
}

func (p *PostgresIndexedStore) Insert(ctx context.Context, entry *Entry) error {
	embedding, err := encodeEmbedding(entry.Embedding)
	if err != nil {
		return err
	}

	fn := func() error {
		_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (
				id, tenant, exact_key, simhash, embedding, canonical_prompt, raw_prompt_hmac,
				request_blob, response_blob, model, model_family, temperature_bucket, top_p,
				mode, tool_schema_hash, hit_count, last_hit_at, is_golden, pii_present,
				created_at, expires_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
			ON CONFLICT (tenant, exact_key) DO NOTHING
		`, p.tableName),
			entry.ID, entry.Tenant, entry.ExactKey, int64(entry.SimHash), embedding,
			entry.CanonicalPrompt, entry.RawPromptHMAC, entry.RequestBlob, entry.ResponseBlob,
			entry.Model, entry.ModelFamily, entry.TemperatureBucket, entry.TopP,
			entry.Mode, entry.ToolSchemaHash, entry.HitCount, entry.LastHitAt,
			entry.IsGolden, entry.PIIPresent, entry.CreatedAt, entry.ExpiresAt,
		)
		return err
	}

	if p.asyncWrites {
		p.asyncChan <- indexedAsyncOp{fn: fn}
		return nil
	}
	if err := fn(); err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// CandidateFetch filters by tenant, expiry, mode and model in SQL, letting
// PostgreSQL's planner use the tenant indexes; the SQL has no SimHash
// predicate. The Hamming distance filter and final ordering are computed
// in Go because bit-popcount-of-xor is awkward to express portably in SQL
// without a custom function.
func (p *PostgresIndexedStore) CandidateFetch(ctx context.Context, q CandidateQuery) ([]*Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, tenant, exact_key, simhash, embedding, canonical_prompt, raw_prompt_hmac,
			request_blob, response_blob, model, model_family, temperature_bucket, top_p,
			mode, tool_schema_hash, hit_count, last_hit_at, is_golden, pii_present,
			created_at, expires_at
		FROM %s
		WHERE tenant = $1
			AND (expires_at IS NULL OR expires_at > NOW())
			AND ($2 = '' OR mode = $2)
			AND ($3 = '' OR model = $3)
	`, p.tableName)

	rows, err := p.db.QueryContext(ctx, query, q.Tenant, q.Mode, q.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	type scored struct {
		entry   *Entry
		hamming int
	}
	var candidates []scored
	for rows.Next() {
		var e Entry
		var simhash int64
		var embedding string
		if err := rows.Scan(
			&e.ID, &e.Tenant, &e.ExactKey, &simhash, &embedding, &e.CanonicalPrompt, &e.RawPromptHMAC,
			&e.RequestBlob, &e.ResponseBlob, &e.Model, &e.ModelFamily, &e.TemperatureBucket, &e.TopP,
			&e.Mode, &e.ToolSchemaHash, &e.HitCount, &e.LastHitAt, &e.IsGolden, &e.PIIPresent,
			&e.CreatedAt, &e.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		e.SimHash = uint64(simhash)
		e.Embedding, err = decodeEmbedding(embedding)
		if err != nil {
			return nil, err
		}
		d := fingerprint.HammingDistance(e.SimHash, q.SimHash)
		if d > q.MaxHamming {
			continue
		}
		candidates = append(candidates, scored{entry: &e, hamming: d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading candidate rows: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hamming != candidates[j].hamming {
			return candidates[i].hamming < candidates[j].hamming
		}
		return candidates[i].entry.HitCount > candidates[j].entry.HitCount
	})

	limit := q.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]*Entry, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, candidates[i].entry)
	}
	return out, nil
}

func (p *PostgresIndexedStore) UpdateHitStats(ctx context.Context, tenant, id string) error {
	fn := func() error {
		_, err := p.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET hit_count = hit_count + 1, last_hit_at = NOW() WHERE tenant = $1 AND id = $2`,
			p.tableName), tenant, id)
		return err
	}
	if p.asyncWrites {
		p.asyncChan <- indexedAsyncOp{fn: fn}
		return nil
	}
	return fn()
}

func (p *PostgresIndexedStore) PromoteToGolden(ctx context.Context, tenant, exactKey string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET is_golden = TRUE, expires_at = NULL WHERE tenant = $1 AND exact_key = $2`,
		p.tableName), tenant, exactKey)
	if err != nil {
		return fmt.Errorf("failed to promote entry to golden: %w", err)
	}
	return nil
}

func (p *PostgresIndexedStore) Delete(ctx context.Context, tenant, exactKey string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE tenant = $1 AND exact_key = $2`, p.tableName), tenant, exactKey)
	return err
}

func (p *PostgresIndexedStore) Clear(ctx context.Context, tenant string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant = $1`, p.tableName), tenant)
	return err
}

func (p *PostgresIndexedStore) Count(ctx context.Context, tenant string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE tenant = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		p.tableName), tenant).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

func (p *PostgresIndexedStore) Close() error {
	if p.asyncWrites {
		close(p.done)
	}
	return p.db.Close()
}
