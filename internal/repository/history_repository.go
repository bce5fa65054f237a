package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// HistoryRepo stores attendance history.  Rows are only ever inserted.
// Inserts are idempotent on client_ref and on ticket_id, so replaying an
// outbox entry or reconciling a ticket that already has a row returns the
// existing id instead of creating a duplicate.
type HistoryRepo struct {
	db *sql.DB
}

// NewHistoryRepo returns a new HistoryRepo bound to the given database.
func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

const historyColumns = `id, client_ref, ticket_id, attendant_id, attendant_name, ticket_number,
	ticket_type, start_time, end_time, service_date, created_at`

func historyArgs(rec model.AttendanceRecord) []interface{} {
	var ticketID interface{}
	if rec.TicketID != nil {
		ticketID = *rec.TicketID
	}
	return []interface{}{
		rec.ClientRef, ticketID, rec.AttendantID, rec.AttendantName, rec.TicketNumber,
		string(rec.TicketType), rec.StartTime.UTC(), rec.EndTime.UTC(), rec.ServiceDate,
	}
}

// InsertViaProcedure records through the record_attendance procedure, which
// runs with its definer's rights.  It returns the id of the stored row.
func (r *HistoryRepo) InsertViaProcedure(ctx context.Context, rec model.AttendanceRecord) (uint64, error) {
	var id uint64
	err := r.db.QueryRowContext(ctx,
		`CALL record_attendance(?, ?, ?, ?, ?, ?, ?, ?, ?)`, historyArgs(rec)...).Scan(&id)
	return id, err
}

// Insert records with a plain INSERT IGNORE and returns the id of the row
// holding this client_ref or ticket.
func (r *HistoryRepo) Insert(ctx context.Context, rec model.AttendanceRecord) (uint64, error) {
	const ins = `INSERT IGNORE INTO attendance_history
		(client_ref, ticket_id, attendant_id, attendant_name, ticket_number, ticket_type, start_time, end_time, service_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, ins, historyArgs(rec)...); err != nil {
		return 0, err
	}
	var ticketID interface{}
	if rec.TicketID != nil {
		ticketID = *rec.TicketID
	}
	var id uint64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM attendance_history WHERE client_ref = ? OR (? IS NOT NULL AND ticket_id = ?) LIMIT 1`,
		rec.ClientRef, ticketID, ticketID).Scan(&id)
	return id, err
}

// ListByDate returns the records of one service date (YYYY-MM-DD) ordered
// by end time.
func (r *HistoryRepo) ListByDate(ctx context.Context, date string) ([]model.AttendanceRecord, error) {
	return r.ListRange(ctx, date, date)
}

// ListRange returns the records whose service date lies in [from, to],
// both inclusive, ordered by end time.
func (r *HistoryRepo) ListRange(ctx context.Context, from, to string) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM attendance_history
		 WHERE service_date BETWEEN ? AND ?
		 ORDER BY end_time, id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AttendanceRecord, 0)
	for rows.Next() {
		var (
			rec      model.AttendanceRecord
			ticketID sql.NullInt64
			typ      string
			date     time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.ClientRef, &ticketID, &rec.AttendantID, &rec.AttendantName,
			&rec.TicketNumber, &typ, &rec.StartTime, &rec.EndTime, &date, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if ticketID.Valid {
			tid := uint64(ticketID.Int64)
			rec.TicketID = &tid
		}
		rec.TicketType = model.TicketType(typ)
		rec.ServiceDate = date.Format(model.ServiceDateLayout)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
