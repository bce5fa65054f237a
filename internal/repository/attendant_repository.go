package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// AttendantRepo provides CRUD operations on the attendants table.
type AttendantRepo struct {
	db *sql.DB
}

// NewAttendantRepo returns a new AttendantRepo bound to the given database.
func NewAttendantRepo(db *sql.DB) *AttendantRepo { return &AttendantRepo{db: db} }

const attendantColumns = `id, name, is_active, created_at, updated_at`

// Create inserts an attendant and returns the stored row.
func (r *AttendantRepo) Create(ctx context.Context, name string, active bool) (model.Attendant, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO attendants (name, is_active) VALUES (?, ?)`,
		strings.TrimSpace(name), active)
	if err != nil {
		return model.Attendant{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Attendant{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID returns the attendant with the given id or ErrAttendantNotFound.
func (r *AttendantRepo) GetByID(ctx context.Context, id uint64) (model.Attendant, error) {
	var a model.Attendant
	err := r.db.QueryRowContext(ctx,
		`SELECT `+attendantColumns+` FROM attendants WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attendant{}, ErrAttendantNotFound
	}
	return a, err
}

// List returns every attendant ordered by id so desk cards keep a stable
// position between reloads.
func (r *AttendantRepo) List(ctx context.Context) ([]model.Attendant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+attendantColumns+` FROM attendants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Attendant, 0)
	for rows.Next() {
		var a model.Attendant
		if err := rows.Scan(&a.ID, &a.Name, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update changes the name and/or active flag.  Nil arguments leave the
// column untouched.  It returns the updated row.
func (r *AttendantRepo) Update(ctx context.Context, id uint64, name *string, active *bool) (model.Attendant, error) {
	sets := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, strings.TrimSpace(*name))
	}
	if active != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *active)
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}
	args = append(args, id)
	if _, err := r.db.ExecContext(ctx, `UPDATE attendants SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return model.Attendant{}, err
	}
	// MySQL reports 0 affected rows when the values did not change, so
	// existence is confirmed by reading the row back.
	return r.GetByID(ctx, id)
}

// Delete removes an attendant.  Its tickets go with it (ON DELETE CASCADE);
// attendance history keeps the denormalised name.
func (r *AttendantRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendants WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAttendantNotFound
	}
	return nil
}
