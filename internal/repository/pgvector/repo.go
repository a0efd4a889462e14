// Package pgvector is the PostgreSQL + pgvector backend.
// The knowledge base lives in a single table: id, content, metadata jsonb, embedding vector(N).
package pgvector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
	"github.com/kailas-cloud/semsearch/internal/domain/search/score"
)

// DefaultTable is the knowledge base table name.
const DefaultTable = "health_knowledge_base"

// Config holds connection and table settings.
type Config struct {
	DSN             string
	Table           string
	Dimensions      int
	Metric          score.Metric
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Repo implements vectorstore.Backend over a pgvector table.
type Repo struct {
	db     *sqlx.DB
	cfg    Config
	table  string
	logger *zap.Logger
}

// Open connects to PostgreSQL and returns a Repo. The pool is bounded by MaxOpenConns.
func Open(cfg Config, logger *zap.Logger) (*Repo, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pgvector: dsn is required")
	}
	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return New(conn, cfg, logger), nil
}

// New wraps an existing connection.
func New(conn *sqlx.DB, cfg Config, logger *zap.Logger) *Repo {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Metric == "" {
		cfg.Metric = score.Cosine
	}
	return &Repo{
		db:     conn,
		cfg:    cfg,
		table:  pq.QuoteIdentifier(cfg.Table),
		logger: logger,
	}
}

// Name returns the backend name used in metrics and logs.
func (r *Repo) Name() string { return "pgvector" }

// Dimensions returns the embedding column width.
func (r *Repo) Dimensions() int { return r.cfg.Dimensions }

// EnsureSchema creates the extension and the table when they are missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if r.cfg.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive to create %s", domain.ErrStoreQuery, r.cfg.Table)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        text PRIMARY KEY,
			content   text NOT NULL,
			metadata  jsonb NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, r.table, r.cfg.Dimensions),
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Errorf("ensure schema: %w", err))
		}
	}
	return nil
}

// LoadDimensions reads the embedding column width from the catalog.
// A configured width that disagrees with the table is a dimension mismatch.
func (r *Repo) LoadDimensions(ctx context.Context) error {
	var typmod int
	err := r.db.GetContext(ctx, &typmod,
		`SELECT a.atttypmod FROM pg_attribute a
		 WHERE a.attrelid = $1::regclass AND a.attname = 'embedding' AND NOT a.attisdropped`,
		r.cfg.Table)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: table %s has no embedding column", domain.ErrStoreQuery, r.cfg.Table)
	}
	if err != nil {
		return classify(fmt.Errorf("load dimensions: %w", err))
	}
	if typmod <= 0 {
		return fmt.Errorf("%w: embedding column of %s has no fixed width", domain.ErrStoreQuery, r.cfg.Table)
	}

	if r.cfg.Dimensions > 0 && r.cfg.Dimensions != typmod {
		return fmt.Errorf("%w: %w: table %s stores %d, configured %d",
			domain.ErrStoreQuery, domain.ErrVectorDimMismatch, r.cfg.Table, typmod, r.cfg.Dimensions)
	}
	r.cfg.Dimensions = typmod
	return nil
}

type row struct {
	ID       string         `db:"id"`
	Content  sql.NullString `db:"content"`
	Metadata []byte         `db:"metadata"`
	Distance float64        `db:"distance"`
}

// Search orders rows by vector distance and returns the k closest.
func (r *Repo) Search(ctx context.Context, vec []float32, k int, f filter.Expression) ([]hit.Hit, error) {
	args := []any{VectorLiteral(vec)}
	where, args := buildWhere(f, args)

	query := fmt.Sprintf(
		`SELECT id, content, metadata, embedding %s $1::vector AS distance FROM %s%s ORDER BY distance LIMIT %d`,
		distanceOperator(r.cfg.Metric), r.table, where, k)

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("search %s: %w", r.cfg.Table, err))
	}

	hits := make([]hit.Hit, 0, len(rows))
	for _, rw := range rows {
		meta, err := decodeMetadata(rw.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: row %s: %w", domain.ErrStoreQuery, rw.ID, err)
		}
		hits = append(hits, hit.Hit{
			ID:       rw.ID,
			Score:    r.normalize(rw.Distance),
			Content:  rw.Content.String,
			Metadata: meta,
		})
	}
	return hits, nil
}

// normalize maps the operator result onto [0, 1].
func (r *Repo) normalize(d float64) float64 {
	if r.cfg.Metric == score.IP {
		// <#> yields the negated inner product.
		return score.FromDistance(score.IP, 1+d)
	}
	return score.FromDistance(r.cfg.Metric, d)
}

func distanceOperator(m score.Metric) string {
	switch m {
	case score.L2:
		return "<->"
	case score.IP:
		return "<#>"
	default:
		return "<=>"
	}
}

// Upsert inserts or replaces the row for doc.ID.
func (r *Repo) Upsert(ctx context.Context, doc domain.Document, vec []float32) error {
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	for key := range meta {
		if domain.IsReservedField(key) {
			return domain.Invalidf("metadata key %q uses reserved prefix %q", key, domain.ReservedPrefix)
		}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %w", domain.ErrStoreQuery, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3::jsonb, $4::vector)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, r.table)

	if _, err := r.db.ExecContext(ctx, query, doc.ID, doc.Text, string(metaJSON), VectorLiteral(vec)); err != nil {
		return classify(fmt.Errorf("upsert %s: %w", doc.ID, err))
	}
	return nil
}

// Ping checks database connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return classify(fmt.Errorf("ping: %w", err))
	}
	return nil
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	return r.db.Close()
}

// VectorLiteral renders v in pgvector text form: [1,2,3].
func VectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 8)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// decodeMetadata flattens a jsonb object into string values.
func decodeMetadata(raw []byte) (map[string]string, error) {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	for k, v := range m {
		switch tv := v.(type) {
		case nil:
		case string:
			out[k] = tv
		case float64:
			out[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(tv)
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				return nil, fmt.Errorf("encode metadata %s: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

// classify separates connectivity failures from rejected statements.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// connection exception, insufficient resources, operator intervention
		case "08", "53", "57":
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		default:
			return fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
