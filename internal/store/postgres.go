package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to Postgres and verifies the connection.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// schema is applied by EnsureSchema on startup. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	filename       TEXT NOT NULL DEFAULT '',
	total_pages    INT NOT NULL,
	ocr_status     TEXT NOT NULL DEFAULT 'queued',
	pages_done     INT NOT NULL DEFAULT 0,
	confidence_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
	index_status   TEXT NOT NULL DEFAULT 'pending',
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ocr_pages (
	document_id         TEXT NOT NULL REFERENCES documents(id),
	page_number         INT NOT NULL,
	extracted_text      TEXT NOT NULL DEFAULT '',
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
	checksum            TEXT NOT NULL DEFAULT '',
	verification_method TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (document_id, page_number)
);

CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	start_page  INT NOT NULL,
	end_page    INT NOT NULL,
	status      TEXT NOT NULL,
	pages_done  INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS index_items (
	document_id TEXT NOT NULL REFERENCES documents(id),
	ordinal     INT NOT NULL,
	label       TEXT NOT NULL,
	source_page INT NOT NULL,
	PRIMARY KEY (document_id, ordinal)
);

CREATE TABLE IF NOT EXISTS links (
	document_id TEXT NOT NULL REFERENCES documents(id),
	ordinal     INT NOT NULL,
	source_page INT NOT NULL,
	dest_page   INT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	method      TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, ordinal)
);
`

// EnsureSchema creates tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.OCRStatus == "" {
		doc.OCRStatus = OCRStatusQueued
	}
	if doc.IndexStatus == "" {
		doc.IndexStatus = IndexStatusPending
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, total_pages, ocr_status, index_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.Filename, doc.TotalPages, doc.OCRStatus, doc.IndexStatus, doc.CreatedAt,
	)
	return err
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, filename, total_pages, ocr_status, pages_done, confidence_avg,
		       index_status, error, created_at, started_at, completed_at
		FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (p *Postgres) ListDocumentsByStatus(ctx context.Context, statuses ...OCRStatus) ([]*Document, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, filename, total_pages, ocr_status, pages_done, confidence_avg,
		       index_status, error, created_at, started_at, completed_at
		FROM documents
		WHERE cardinality($1::text[]) = 0 OR ocr_status = ANY($1::text[])
		ORDER BY created_at`, vals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDocumentStatus(ctx context.Context, id string, status OCRStatus, errMsg string) error {
	var query string
	switch status {
	case OCRStatusProcessing:
		query = `UPDATE documents SET ocr_status = $2, error = $3, started_at = now(), completed_at = NULL WHERE id = $1`
	case OCRStatusCompleted, OCRStatusFailed:
		query = `UPDATE documents SET ocr_status = $2, error = $3, completed_at = now() WHERE id = $1`
	default:
		query = `UPDATE documents SET ocr_status = $2, error = $3, started_at = NULL, completed_at = NULL WHERE id = $1`
	}
	tag, err := p.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateDocumentProgress(ctx context.Context, id string, pagesDone int, confidenceAvg float64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE documents SET pages_done = $2, confidence_avg = $3 WHERE id = $1`,
		id, pagesDone, confidenceAvg,
	)
	return err
}

func (p *Postgres) UpdateDocumentIndexStatus(ctx context.Context, id string, status IndexStatus) error {
	_, err := p.pool.Exec(ctx, `UPDATE documents SET index_status = $2 WHERE id = $1`, id, status)
	return err
}

func (p *Postgres) UpsertPage(ctx context.Context, page *PageRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO ocr_pages (document_id, page_number, extracted_text, confidence,
		                       checksum, verification_method, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (document_id, page_number) DO UPDATE SET
			extracted_text      = EXCLUDED.extracted_text,
			confidence          = EXCLUDED.confidence,
			checksum            = EXCLUDED.checksum,
			verification_method = EXCLUDED.verification_method,
			status              = EXCLUDED.status,
			updated_at          = now()`,
		page.DocumentID, page.PageNumber, page.ExtractedText, page.Confidence,
		page.Checksum, page.VerificationMethod, page.Status,
	)
	return err
}

func (p *Postgres) GetPage(ctx context.Context, docID string, pageNumber int) (*PageRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT document_id, page_number, extracted_text, confidence, checksum,
		       verification_method, status, updated_at
		FROM ocr_pages WHERE document_id = $1 AND page_number = $2`, docID, pageNumber)
	return scanPage(row)
}

func (p *Postgres) ListPages(ctx context.Context, docID string, fromPage, toPage int) ([]*PageRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT document_id, page_number, extracted_text, confidence, checksum,
		       verification_method, status, updated_at
		FROM ocr_pages
		WHERE document_id = $1 AND page_number >= $2 AND ($3 <= 0 OR page_number <= $3)
		ORDER BY page_number`, docID, fromPage, toPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PageRecord
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

func (p *Postgres) CompletedPages(ctx context.Context, docID string) (map[int]bool, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT page_number FROM ocr_pages WHERE document_id = $1 AND status = 'completed'`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		done[n] = true
	}
	return done, rows.Err()
}

func (p *Postgres) AggregateDocument(ctx context.Context, docID string) (*Aggregate, error) {
	agg := &Aggregate{}
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(AVG(confidence) FILTER (WHERE status = 'completed'), 0)
		FROM ocr_pages WHERE document_id = $1`, docID,
	).Scan(&agg.PagesDone, &agg.FailedPages, &agg.ConfidenceAvg)
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func (p *Postgres) UpsertBatch(ctx context.Context, batch *Batch) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO batches (id, document_id, start_page, end_page, status, pages_done)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			pages_done = EXCLUDED.pages_done`,
		batch.ID, batch.DocumentID, batch.StartPage, batch.EndPage, batch.Status, batch.PagesDone,
	)
	return err
}

func (p *Postgres) ListBatches(ctx context.Context, docID string) ([]*Batch, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, start_page, end_page, status, pages_done
		FROM batches WHERE document_id = $1 ORDER BY start_page`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Batch
	for rows.Next() {
		b := &Batch{}
		if err := rows.Scan(&b.ID, &b.DocumentID, &b.StartPage, &b.EndPage, &b.Status, &b.PagesDone); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) ReplaceIndexItems(ctx context.Context, docID string, items []IndexItem) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM index_items WHERE document_id = $1`, docID); err != nil {
			return err
		}
		for _, it := range items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO index_items (document_id, ordinal, label, source_page)
				VALUES ($1, $2, $3, $4)`,
				docID, it.Ordinal, it.Label, it.SourcePage,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) ListIndexItems(ctx context.Context, docID string) ([]IndexItem, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT document_id, ordinal, label, source_page
		FROM index_items WHERE document_id = $1 ORDER BY ordinal`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexItem
	for rows.Next() {
		var it IndexItem
		if err := rows.Scan(&it.DocumentID, &it.Ordinal, &it.Label, &it.SourcePage); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) ReplaceLinks(ctx context.Context, docID string, links []Link) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM links WHERE document_id = $1`, docID); err != nil {
			return err
		}
		for _, l := range links {
			if _, err := tx.Exec(ctx, `
				INSERT INTO links (document_id, ordinal, source_page, dest_page, status, confidence, method, reason)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				docID, l.Ordinal, l.SourcePage, l.DestPage, l.Status, l.Confidence, l.Method, l.Reason,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) ListLinks(ctx context.Context, docID string) ([]Link, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT document_id, ordinal, source_page, dest_page, status, confidence, method, reason
		FROM links WHERE document_id = $1 ORDER BY ordinal`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.DocumentID, &l.Ordinal, &l.SourcePage, &l.DestPage,
			&l.Status, &l.Confidence, &l.Method, &l.Reason); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateLinkStatus(ctx context.Context, docID string, ordinal int, status LinkStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE links SET status = $3 WHERE document_id = $1 AND ordinal = $2`,
		docID, ordinal, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	doc := &Document{}
	err := row.Scan(&doc.ID, &doc.Filename, &doc.TotalPages, &doc.OCRStatus,
		&doc.PagesDone, &doc.ConfidenceAvg, &doc.IndexStatus, &doc.Error,
		&doc.CreatedAt, &doc.StartedAt, &doc.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func scanPage(row rowScanner) (*PageRecord, error) {
	page := &PageRecord{}
	err := row.Scan(&page.DocumentID, &page.PageNumber, &page.ExtractedText,
		&page.Confidence, &page.Checksum, &page.VerificationMethod,
		&page.Status, &page.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return page, nil
}
