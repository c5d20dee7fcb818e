package servicerequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsuite/clinic/internal/domain/scheduling"
	"github.com/clinicsuite/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const requestCols = `r.id, r.patient_id, r.service_type_id, r.preferred_doctor_id,
	r.preferred_date_1, r.preferred_date_2, r.preferred_date_3, r.preferred_time,
	r.reason, r.urgent, r.additional_notes, r.status, r.rejection_reason, r.service_id,
	r.created_at, r.updated_at, p.first_name, p.last_name, t.name`

const requestFrom = ` FROM service_request r
	JOIN patient p ON p.id = r.patient_id
	JOIN service_type t ON t.id = r.service_type_id`

func optionalDate(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	d := NewDate(*t)
	return &d
}

func dateArg(d *Date) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	return &d.Time
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var d1 time.Time
	var d2, d3 *time.Time
	pt := scheduling.PatientSummary{}
	err := row.Scan(&req.ID, &req.PatientID, &req.ServiceTypeID, &req.PreferredDoctorID,
		&d1, &d2, &d3, &req.PreferredTime,
		&req.Reason, &req.Urgent, &req.AdditionalNotes, &req.Status, &req.RejectionReason, &req.ServiceID,
		&req.CreatedAt, &req.UpdatedAt, &pt.FirstName, &pt.LastName, &req.ServiceTypeName)
	if err != nil {
		return nil, db.Classify(err, "service request")
	}
	req.PreferredDate1 = NewDate(d1)
	req.PreferredDate2 = optionalDate(d2)
	req.PreferredDate3 = optionalDate(d3)
	pt.ID = req.PatientID
	req.Patient = &pt
	return &req, nil
}

func (r *repoPG) Create(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO service_request (id, patient_id, service_type_id, preferred_doctor_id,
			preferred_date_1, preferred_date_2, preferred_date_3, preferred_time,
			reason, urgent, additional_notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		req.ID, req.PatientID, req.ServiceTypeID, req.PreferredDoctorID,
		req.PreferredDate1.Time, dateArg(req.PreferredDate2), dateArg(req.PreferredDate3), req.PreferredTime,
		req.Reason, req.Urgent, req.AdditionalNotes, req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	return db.Classify(err, "service request")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+requestFrom+` WHERE r.id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Request, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Status != nil {
		where += fmt.Sprintf(` AND r.status = $%d`, idx)
		args = append(args, *f.Status)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND r.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}

	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM service_request r`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "service request")
	}

	query := `SELECT ` + requestCols + requestFrom + where +
		fmt.Sprintf(` ORDER BY r.urgent DESC, r.created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err, "service request")
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, from, to Status, rejectionReason *string, serviceID *uuid.UUID) (*Request, error) {
	var got uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE service_request
		SET status = $3,
			rejection_reason = COALESCE($4, rejection_reason),
			service_id = COALESCE($5, service_id),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id`, id, from, to, rejectionReason, serviceID).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err, "service request")
	}
	return r.GetByID(ctx, got)
}
