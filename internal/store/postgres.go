package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const recordColumns = `id, kind, category, display, images, prev_id, next_id, created_at, updated_at`

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE id=$1
	`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// ListRecords returns every record of the given kind, filtered by category
// when one is supplied. Results come back in storage order; callers that
// need the linked order run them through the ordering package.
func (s *PostgresStore) ListRecords(ctx context.Context, kind Kind, category Category) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE kind=$1`
	args := []any{string(kind)}
	if category != "" {
		query += ` AND category=$2`
		args = append(args, string(category))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

// GetSignedURL looks up the cached signed-URL entry for an image reference.
// The second return value is false when no entry exists; expiry is checked
// by the caller against its own notion of now.
func (s *PostgresStore) GetSignedURL(ctx context.Context, imageRef string) (SignedURL, bool, error) {
	var entry SignedURL
	err := s.db.QueryRowContext(ctx, `
		SELECT url, expires FROM signed_image_urls WHERE image_ref=$1
	`, imageRef).Scan(&entry.URL, &entry.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return SignedURL{}, false, nil
	}
	if err != nil {
		return SignedURL{}, false, fmt.Errorf("get signed url: %w", err)
	}
	return entry, true, nil
}

// Commit applies every queued batch operation inside one transaction.
// Either the whole batch lands or none of it does.
func (s *PostgresStore) Commit(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	for _, op := range batch.ops {
		if err := applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op batchOp) error {
	switch op.kind {
	case opSetRecord, opUpdateRecord:
		display, err := json.Marshal(op.record.Display)
		if err != nil {
			return fmt.Errorf("marshal display fields: %w", err)
		}
		images, err := json.Marshal(nonNilStrings(op.record.Images))
		if err != nil {
			return fmt.Errorf("marshal images: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (id, kind, category, display, images, prev_id, next_id, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				kind=EXCLUDED.kind,
				category=EXCLUDED.category,
				display=EXCLUDED.display,
				images=EXCLUDED.images,
				prev_id=EXCLUDED.prev_id,
				next_id=EXCLUDED.next_id,
				updated_at=EXCLUDED.updated_at
		`, op.record.ID, string(op.record.Kind), string(op.record.Category), display, images,
			op.record.PrevID, op.record.NextID, op.record.CreatedAt, op.record.UpdatedAt)
		if err != nil {
			return fmt.Errorf("write record %s: %w", op.record.ID, err)
		}
	case opUpdateLinks:
		_, err := tx.ExecContext(ctx, `
			UPDATE records SET prev_id=$2, next_id=$3, updated_at=$4 WHERE id=$1
		`, op.id, op.prevID, op.nextID, op.updatedAt)
		if err != nil {
			return fmt.Errorf("update links %s: %w", op.id, err)
		}
	case opDeleteRecord:
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id=$1`, op.id); err != nil {
			return fmt.Errorf("delete record %s: %w", op.id, err)
		}
	case opSetSignedURL:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO signed_image_urls (image_ref, url, expires)
			VALUES ($1, $2, $3)
			ON CONFLICT (image_ref) DO UPDATE SET url=EXCLUDED.url, expires=EXCLUDED.expires
		`, op.imageRef, op.signedURL.URL, op.signedURL.Expires)
		if err != nil {
			return fmt.Errorf("write signed url %s: %w", op.imageRef, err)
		}
	case opDeleteSignedURL:
		if _, err := tx.ExecContext(ctx, `DELETE FROM signed_image_urls WHERE image_ref=$1`, op.imageRef); err != nil {
			return fmt.Errorf("delete signed url %s: %w", op.imageRef, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		record   Record
		kind     string
		category sql.NullString
		display  []byte
		images   []byte
	)
	err := row.Scan(&record.ID, &kind, &category, &display, &images,
		&record.PrevID, &record.NextID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	record.Kind = Kind(kind)
	if category.Valid {
		record.Category = Category(category.String)
	}
	if len(display) > 0 {
		if err := json.Unmarshal(display, &record.Display); err != nil {
			return Record{}, fmt.Errorf("decode display fields: %w", err)
		}
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &record.Images); err != nil {
			return Record{}, fmt.Errorf("decode images: %w", err)
		}
	}
	return record, nil
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
