package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Submission tracks a signature from the moment a wallet returned it until
// its outcome is known.
type Submission struct {
	Signature string `json:"signature"`
	Operation string `json:"operation"`
	Wallet    string `json:"wallet"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type SubmissionFilter struct {
	Wallet  string
	Outcome string
	Limit   int
	Offset  int
}

const submissionColumns = `signature, operation, wallet_pubkey, outcome, reason, slot, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (Submission, error) {
	var (
		sub  Submission
		slot int64
	)
	if err := row.Scan(
		&sub.Signature,
		&sub.Operation,
		&sub.Wallet,
		&sub.Outcome,
		&sub.Reason,
		&slot,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return Submission{}, err
	}
	sub.Slot = uint64(slot)
	return sub, nil
}

// RecordSubmission inserts sub and returns the stored record. Recording the
// same signature twice keeps the first record.
func (s *Store) RecordSubmission(ctx context.Context, sub Submission) (Submission, error) {
	var stored Submission
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO submissions (
				signature,
				operation,
				wallet_pubkey,
				outcome,
				reason,
				slot,
				created_at,
				updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (signature) DO NOTHING
		`,
			sub.Signature,
			sub.Operation,
			sub.Wallet,
			sub.Outcome,
			sub.Reason,
			int64(sub.Slot),
			sub.CreatedAt,
			sub.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}

		var err error
		stored, err = scanSubmission(tx.QueryRowContext(ctx,
			`SELECT `+submissionColumns+` FROM submissions WHERE signature = ?`, sub.Signature))
		if err != nil {
			return fmt.Errorf("read submission: %w", err)
		}
		return nil
	})
	if err != nil {
		return Submission{}, err
	}
	return stored, nil
}

func (s *Store) UpdateSubmissionOutcome(ctx context.Context, signature, outcome, reason string, slot uint64, updatedAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET outcome = ?, reason = ?, slot = ?, updated_at = ?
		WHERE signature = ?
	`, outcome, reason, int64(slot), updatedAt, signature)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, signature string) (Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE signature = ?`, signature))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// ListSubmissions returns the newest submissions first, optionally narrowed to
// one wallet and one outcome.
func (s *Store) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)

	if filter.Wallet != "" {
		clauses = append(clauses, "wallet_pubkey = ?")
		args = append(args, filter.Wallet)
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM submissions
		WHERE %s
		ORDER BY created_at DESC, signature ASC
		LIMIT ? OFFSET ?
	`, submissionColumns, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]Submission, 0, limit)
	for rows.Next() {
		item, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}
	return items, limit, offset, nil
}
