package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quotefeed/internal/models"
)

// SQLiteStore implements Driver using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between concurrent batches.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per company per trading day
	CREATE TABLE IF NOT EXISTS day_documents (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		stock_name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		nse_data TEXT,
		bse_data TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Distinct snapshots kept under the append policy
	CREATE TABLE IF NOT EXISTS quote_history (
		doc_id TEXT NOT NULL,
		exchange TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(doc_id, exchange, payload)
	);

	CREATE INDEX IF NOT EXISTS idx_day_documents_company ON day_documents(company_id);
	CREATE INDEX IF NOT EXISTS idx_quote_history_doc ON quote_history(doc_id, exchange);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BulkUpsert applies the batch in one transaction. Stored payloads for
// exchanges absent from an upsert are left untouched.
func (s *SQLiteStore) BulkUpsert(ctx context.Context, batch []Upsert) (Result, error) {
	var res Result
	if len(batch) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, u := range batch {
		inserted, modified, err := s.upsert(ctx, tx, u)
		if err != nil {
			return Result{}, err
		}
		if inserted {
			res.Inserted++
		} else if modified {
			res.Modified++
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

func (s *SQLiteStore) upsert(ctx context.Context, tx *sql.Tx, u Upsert) (inserted, modified bool, err error) {
	doc := u.Doc
	nse, err := encodeQuote(doc.NSE)
	if err != nil {
		return false, false, err
	}
	bse, err := encodeQuote(doc.BSE)
	if err != nil {
		return false, false, err
	}

	var oldNSE, oldBSE sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT nse_data, bse_data FROM day_documents WHERE id = ?`, doc.ID,
	).Scan(&oldNSE, &oldBSE)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO day_documents (id, company_id, stock_name, created_at, nse_data, bse_data)
			VALUES (?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.CompanyID, doc.StockName, doc.CreatedAt, nse, bse)
		if err != nil {
			return false, false, fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
		}
		inserted = true
	case err != nil:
		return false, false, fmt.Errorf("failed to read document %s: %w", doc.ID, err)
	default:
		newNSE := mergeColumn(oldNSE, nse)
		newBSE := mergeColumn(oldBSE, bse)
		if newNSE != oldNSE || newBSE != oldBSE {
			_, err = tx.ExecContext(ctx, `
				UPDATE day_documents
				SET nse_data = ?, bse_data = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, newNSE, newBSE, doc.ID)
			if err != nil {
				return false, false, fmt.Errorf("failed to update document %s: %w", doc.ID, err)
			}
			modified = true
		}
	}

	if u.Policy == MergeAppend {
		for exchange, payload := range map[models.Exchange]sql.NullString{models.NSE: nse, models.BSE: bse} {
			if !payload.Valid {
				continue
			}
			r, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO quote_history (doc_id, exchange, payload) VALUES (?, ?, ?)
			`, doc.ID, string(exchange), payload.String)
			if err != nil {
				return false, false, fmt.Errorf("failed to append history %s: %w", doc.ID, err)
			}
			if n, _ := r.RowsAffected(); n > 0 {
				modified = true
			}
		}
	}

	return inserted, modified, nil
}

// Get returns the stored document with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (models.DayDocument, bool, error) {
	var doc models.DayDocument
	var nse, bse sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, stock_name, created_at, nse_data, bse_data
		FROM day_documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.CompanyID, &doc.StockName, &doc.CreatedAt, &nse, &bse)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, fmt.Errorf("failed to query document: %w", err)
	}

	if doc.NSE, err = decodeQuote(nse); err != nil {
		return doc, false, err
	}
	if doc.BSE, err = decodeQuote(bse); err != nil {
		return doc, false, err
	}
	return doc, true, nil
}

// History returns the distinct snapshots recorded for one exchange of a
// document, oldest first.
func (s *SQLiteStore) History(ctx context.Context, id string, exchange models.Exchange) ([]models.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM quote_history
		WHERE doc_id = ? AND exchange = ?
		ORDER BY rowid ASC
	`, id, string(exchange))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		var q models.Quote
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return quotes, nil
}

func mergeColumn(old, incoming sql.NullString) sql.NullString {
	if incoming.Valid {
		return incoming
	}
	return old
}

func encodeQuote(q *models.Quote) (sql.NullString, error) {
	if q == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(q)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode quote: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeQuote(s sql.NullString) (*models.Quote, error) {
	if !s.Valid {
		return nil, nil
	}
	var q models.Quote
	if err := json.Unmarshal([]byte(s.String), &q); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	return &q, nil
}
