package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// QueueStateRepo reads and advances the singleton queue_state row.  The
// counters are display hints only.
type QueueStateRepo struct {
	db *sql.DB
}

// NewQueueStateRepo returns a new QueueStateRepo bound to the given database.
func NewQueueStateRepo(db *sql.DB) *QueueStateRepo { return &QueueStateRepo{db: db} }

const queueStateID = 1

// Get returns the counters, or defaults of 1 when the row is missing.
func (r *QueueStateRepo) Get(ctx context.Context) (model.QueueState, error) {
	var s model.QueueState
	err := r.db.QueryRowContext(ctx,
		`SELECT next_preferential_number, next_normal_number, updated_at FROM queue_state WHERE id = ?`,
		queueStateID).Scan(&s.NextPreferentialNumber, &s.NextNormalNumber, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueueState{NextPreferentialNumber: 1, NextNormalNumber: 1}, nil
	}
	return s, err
}

// SetNext stores the hint for one ticket type.
func (r *QueueStateRepo) SetNext(ctx context.Context, t model.TicketType, next int) error {
	var column string
	switch t {
	case model.TicketPreferential:
		column = "next_preferential_number"
	case model.TicketNormal:
		column = "next_normal_number"
	default:
		return fmt.Errorf("unknown ticket type %q", t)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO queue_state (id, `+column+`) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE `+column+` = VALUES(`+column+`)`,
		queueStateID, next)
	return err
}
