package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsuite/clinic/internal/platform/db"
)

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

const doctorCols = `id, user_id, first_name, last_name, specialization, active, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.UserID, &d.FirstName, &d.LastName, &d.Specialization, &d.Active, &d.CreatedAt); err != nil {
		return nil, db.Classify(err, "doctor")
	}
	return &d, nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE user_id = $1`, userID))
}

func (r *doctorRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM doctor WHERE active OR NOT $1`, activeOnly).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "doctor")
	}
	rows, err := q.Query(ctx, `SELECT `+doctorCols+` FROM doctor WHERE active OR NOT $1
		ORDER BY last_name, first_name LIMIT $2 OFFSET $3`, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "doctor")
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

const patientCols = `id, user_id, first_name, last_name, date_of_birth, phone, email, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Phone, &p.Email, &p.CreatedAt); err != nil {
		return nil, db.Classify(err, "patient")
	}
	return &p, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE user_id = $1`, userID))
}

func (r *patientRepoPG) Search(ctx context.Context, name string, limit, offset int) ([]*Patient, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` WHERE $1 = '' OR first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%'
		OR (first_name || ' ' || last_name) ILIKE '%' || $1 || '%'`

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, name).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "patient")
	}
	rows, err := q.Query(ctx, `SELECT `+patientCols+` FROM patient`+where+`
		ORDER BY last_name, first_name LIMIT $2 OFFSET $3`, name, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "patient")
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
