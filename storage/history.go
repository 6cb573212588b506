package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultListLimit bounds history listings when callers pass no limit.
const DefaultListLimit = 50

const recordColumns = `transfer_id, direction, content_type, source, destination, final_state, item_count, created_at, concluded_at`

// RecordConcluded inserts one concluded transfer row.
func (s *Store) RecordConcluded(rec TransferRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Direction,
		rec.ContentType,
		rec.Source,
		rec.Destination,
		rec.FinalState,
		rec.ItemCount,
		rec.CreatedAt.UnixMilli(),
		rec.ConcludedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert transfer record %q: %w", rec.ID, err)
	}

	return nil
}

// GetRecord loads one concluded transfer by id.
func (s *Store) GetRecord(id string) (*TransferRecord, error) {
	if id == "" {
		return nil, errors.New("transfer_id is required")
	}

	row := s.db.QueryRow(
		`SELECT `+recordColumns+`
		FROM transfers
		WHERE transfer_id = ?`,
		id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query transfer record %q: %w", id, err)
	}

	return &rec, nil
}

// ListRecent returns concluded transfers, newest first.
func (s *Store) ListRecent(limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(
		`SELECT `+recordColumns+`
		FROM transfers
		ORDER BY concluded_at DESC, transfer_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent transfers: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListForPeer returns concluded transfers where the peer was source or
// destination, newest first.
func (s *Store) ListForPeer(peerID string, limit int) ([]TransferRecord, error) {
	if peerID == "" {
		return nil, errors.New("peer id is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(
		`SELECT `+recordColumns+`
		FROM transfers
		WHERE source = ? OR destination = ?
		ORDER BY concluded_at DESC, transfer_id
		LIMIT ?`,
		peerID,
		peerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transfers for peer %q: %w", peerID, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// PruneOlderThan deletes records concluded before the cutoff and reports
// how many rows went away.
func (s *Store) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM transfers WHERE concluded_at < ?`,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune transfer records: %w", err)
	}

	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for prune: %w", err)
	}
	return pruned, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (TransferRecord, error) {
	var (
		rec         TransferRecord
		createdAt   int64
		concludedAt int64
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Direction,
		&rec.ContentType,
		&rec.Source,
		&rec.Destination,
		&rec.FinalState,
		&rec.ItemCount,
		&createdAt,
		&concludedAt,
	); err != nil {
		return TransferRecord{}, err
	}

	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.ConcludedAt = time.UnixMilli(concludedAt)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]TransferRecord, error) {
	var records []TransferRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer records: %w", err)
	}
	return records, nil
}
