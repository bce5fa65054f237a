package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// TicketRepo provides data access to the tickets table.  Removed tickets
// are deleted; completed tickets stay as rows so reconciliation can find
// services whose history write was lost.  All timestamps are UTC.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, ticket_number, ticket_type, attendant_id, status, created_at, called_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(s rowScanner) (model.Ticket, error) {
	var (
		t         model.Ticket
		typ, stat string
		called    sql.NullTime
		completed sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.Number, &typ, &t.AttendantID, &stat, &t.CreatedAt, &called, &completed); err != nil {
		return model.Ticket{}, err
	}
	t.Type = model.TicketType(typ)
	t.Status = model.TicketStatus(stat)
	if called.Valid {
		ct := called.Time
		t.CalledAt = &ct
	}
	if completed.Valid {
		ct := completed.Time
		t.CompletedAt = &ct
	}
	return t, nil
}

func collectTickets(rows *sql.Rows) ([]model.Ticket, error) {
	defer rows.Close()
	out := make([]model.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns a ticket or ErrTicketNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, ErrTicketNotFound
	}
	return t, err
}

// ListOpen returns every waiting or in-service ticket, oldest first.  It
// feeds the full queue reload.
func (r *TicketRepo) ListOpen(ctx context.Context) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE status IN ('waiting','in_service')
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// ListOpenByAttendant returns the attendant's waiting and in-service
// tickets, oldest first.
func (r *TicketRepo) ListOpenByAttendant(ctx context.Context, attendantID uint64) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE attendant_id = ? AND status IN ('waiting','in_service')
		 ORDER BY created_at, id`, attendantID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// CreateBatch inserts waiting tickets for one attendant and type in a single
// statement and returns the stored rows in number order.  Every ticket must
// share AttendantID and Type.  A number already held by an open ticket makes
// the whole batch fail with ErrConflict (unique key on open_number), so no
// partial batch is ever visible.
func (r *TicketRepo) CreateBatch(ctx context.Context, tickets []model.Ticket) ([]model.Ticket, error) {
	if len(tickets) == 0 {
		return []model.Ticket{}, nil
	}
	attendantID, typ := tickets[0].AttendantID, tickets[0].Type
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := `INSERT INTO tickets (ticket_number, ticket_type, attendant_id, status, created_at) VALUES `
	args := make([]interface{}, 0, len(tickets)*5)
	placeholders := make([]string, 0, len(tickets))
	numbers := make([]interface{}, 0, len(tickets))
	for i, t := range tickets {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, 'waiting', ?)"
		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		args = append(args, t.Number, string(typ), attendantID, created.UTC())
		placeholders = append(placeholders, "?")
		numbers = append(numbers, t.Number)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isDuplicate(err) {
			return nil, ErrConflict
		}
		return nil, err
	}

	// Read the rows back through the open-number key rather than trusting
	// LastInsertId to be contiguous.
	sel := `SELECT ` + ticketColumns + ` FROM tickets
	        WHERE attendant_id = ? AND ticket_type = ? AND status = 'waiting'
	          AND ticket_number IN (` + strings.Join(placeholders, ",") + `)
	        ORDER BY ticket_number`
	selArgs := append([]interface{}{attendantID, string(typ)}, numbers...)
	rows, err := tx.QueryContext(ctx, sel, selArgs...)
	if err != nil {
		return nil, err
	}
	created, err := collectTickets(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return created, nil
}

// MarkInService moves a waiting ticket to in_service.  It reports false when
// the ticket was no longer waiting (another desk session got there first).
func (r *TicketRepo) MarkInService(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET status = 'in_service', called_at = ? WHERE id = ? AND status = 'waiting'`,
		at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkCompleted moves an in-service ticket to completed.  It reports false
// when the ticket was not in service anymore.
func (r *TicketRepo) MarkCompleted(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'in_service'`,
		at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a ticket whatever its status.  It reports false when no
// row was deleted.
func (r *TicketRepo) Delete(ctx context.Context, id uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompletedWithoutHistory pairs a completed ticket with its attendant's
// current name for the reconciliation job.
type CompletedWithoutHistory struct {
	Ticket        model.Ticket
	AttendantName string
}

// ListCompletedWithoutHistory returns up to limit completed tickets that
// have no attendance_history row, oldest completion first.
func (r *TicketRepo) ListCompletedWithoutHistory(ctx context.Context, limit int) ([]CompletedWithoutHistory, error) {
	const q = `SELECT t.id, t.ticket_number, t.ticket_type, t.attendant_id, t.status,
	                  t.created_at, t.called_at, t.completed_at, a.name
	           FROM tickets t
	           JOIN attendants a ON a.id = t.attendant_id
	           LEFT JOIN attendance_history h ON h.ticket_id = t.id
	           WHERE t.status = 'completed' AND h.id IS NULL
	           ORDER BY t.completed_at
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]CompletedWithoutHistory, 0)
	for rows.Next() {
		var (
			c         CompletedWithoutHistory
			typ, stat string
			called    sql.NullTime
			completed sql.NullTime
		)
		if err := rows.Scan(&c.Ticket.ID, &c.Ticket.Number, &typ, &c.Ticket.AttendantID, &stat,
			&c.Ticket.CreatedAt, &called, &completed, &c.AttendantName); err != nil {
			return nil, err
		}
		c.Ticket.Type = model.TicketType(typ)
		c.Ticket.Status = model.TicketStatus(stat)
		if called.Valid {
			ct := called.Time
			c.Ticket.CalledAt = &ct
		}
		if completed.Valid {
			ct := completed.Time
			c.Ticket.CompletedAt = &ct
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
