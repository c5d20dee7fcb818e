package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/db"
)

type serviceRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceRepository { return &serviceRepoPG{pool: pool} }

func (r *serviceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const serviceCols = `s.id, s.service_type_id, s.type, s.doctor_id, s.start_time, s.end_time,
	s.status, s.cancel_reason, s.notes, s.created_at, s.updated_at,
	d.id, d.first_name, d.last_name, d.specialization`

const serviceFrom = ` FROM service s JOIN doctor d ON d.id = s.doctor_id`

const participantCols = `sp.id, sp.service_id, sp.patient_id, sp.attendance_status, sp.created_at,
	p.id, p.first_name, p.last_name`

const participantFrom = ` FROM service_participant sp JOIN patient p ON p.id = sp.patient_id`

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	var d DoctorSummary
	err := row.Scan(&s.ID, &s.ServiceTypeID, &s.Type, &s.DoctorID, &s.StartTime, &s.EndTime,
		&s.Status, &s.CancelReason, &s.Notes, &s.CreatedAt, &s.UpdatedAt,
		&d.ID, &d.FirstName, &d.LastName, &d.Specialization)
	if err != nil {
		return nil, classify(err)
	}
	s.Doctor = &d
	s.Participants = []*Participant{}
	return &s, nil
}

func scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant
	var pt PatientSummary
	err := row.Scan(&p.ID, &p.ServiceID, &p.PatientID, &p.AttendanceStatus, &p.CreatedAt,
		&pt.ID, &pt.FirstName, &pt.LastName)
	if err != nil {
		return nil, db.Classify(err, "participant")
	}
	p.Patient = &pt
	return &p, nil
}

// classify maps the doctor overlap exclusion constraint to a specific
// conflict and defers everything else to db.Classify.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "service_doctor_no_overlap" {
		return &apperr.Error{
			Kind:    apperr.KindConflict,
			Message: "doctor already has a scheduled service in that time range",
			Err:     err,
		}
	}
	return db.Classify(err, "service")
}

func (r *serviceRepoPG) Create(ctx context.Context, s *Service) error {
	q := r.conn(ctx)
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO service (id, service_type_id, type, doctor_id, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		s.ID, s.ServiceTypeID, s.Type, s.DoctorID, s.StartTime, s.EndTime, s.Status, s.Notes,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return classify(err)
	}

	for _, p := range s.Participants {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.ServiceID = s.ID
		err := q.QueryRow(ctx, `
			INSERT INTO service_participant (id, service_id, patient_id, attendance_status)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at`,
			p.ID, p.ServiceID, p.PatientID, p.AttendanceStatus,
		).Scan(&p.CreatedAt)
		if err != nil {
			return db.Classify(err, "participant")
		}
	}
	return nil
}

func (r *serviceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	s, err := scanService(r.conn(ctx).QueryRow(ctx, `SELECT `+serviceCols+serviceFrom+` WHERE s.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.attachParticipants(ctx, []*Service{s}); err != nil {
		return nil, err
	}
	return s, nil
}

// attachParticipants loads participants for all services in one query.
func (r *serviceRepoPG) attachParticipants(ctx context.Context, services []*Service) error {
	if len(services) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Service, len(services))
	ids := make([]uuid.UUID, 0, len(services))
	for _, s := range services {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+participantCols+participantFrom+`
		WHERE sp.service_id = ANY($1) ORDER BY sp.created_at, p.last_name`, ids)
	if err != nil {
		return db.Classify(err, "participant")
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return err
		}
		if s := byID[p.ServiceID]; s != nil {
			s.Participants = append(s.Participants, p)
		}
	}
	return rows.Err()
}

func (r *serviceRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Service, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND s.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM service_participant x WHERE x.service_id = s.id AND x.patient_id = $%d)`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(` AND s.status = $%d`, idx)
		args = append(args, *f.Status)
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND s.end_time > $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND s.start_time < $%d`, idx)
		args = append(args, *f.To)
		idx++
	}

	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM service s`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	query := `SELECT ` + serviceCols + serviceFrom + where +
		fmt.Sprintf(` ORDER BY s.start_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *serviceRepoPG) ListWindow(ctx context.Context, from, to time.Time) ([]*Service, error) {
	return r.query(ctx, `SELECT `+serviceCols+serviceFrom+`
		WHERE s.start_time < $2 AND s.end_time > $1
		ORDER BY s.start_time, s.id`, from, to)
}

func (r *serviceRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Service, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	var items []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if err := r.attachParticipants(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *serviceRepoPG) Transition(ctx context.Context, id uuid.UUID, from, to Status, cancelReason *string) (*Service, error) {
	var got uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE service
		SET status = $3, cancel_reason = COALESCE($4, cancel_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id`, id, from, to, cancelReason).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return r.GetByID(ctx, got)
}

func (r *serviceRepoPG) GetParticipant(ctx context.Context, id uuid.UUID) (*Participant, error) {
	return scanParticipant(r.conn(ctx).QueryRow(ctx, `SELECT `+participantCols+participantFrom+` WHERE sp.id = $1`, id))
}

func (r *serviceRepoPG) SetAttendance(ctx context.Context, serviceID, participantID uuid.UUID, status AttendanceStatus) (*Participant, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE service_participant sp
		SET attendance_status = $3
		FROM service s
		WHERE sp.id = $2 AND sp.service_id = $1 AND s.id = sp.service_id AND s.status <> 'Cancelled'
		RETURNING sp.id`, serviceID, participantID, status).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err, "participant")
	}
	return r.GetParticipant(ctx, id)
}

const serviceTypeCols = `id, code, name, kind, default_duration_minutes, active`

func scanServiceType(row pgx.Row) (*ServiceTypeDef, error) {
	var t ServiceTypeDef
	if err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Kind, &t.DefaultDurationMinutes, &t.Active); err != nil {
		return nil, db.Classify(err, "service type")
	}
	return &t, nil
}

func (r *serviceRepoPG) ListServiceTypes(ctx context.Context, activeOnly bool) ([]*ServiceTypeDef, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+serviceTypeCols+` FROM service_type
		WHERE active OR NOT $1 ORDER BY name`, activeOnly)
	if err != nil {
		return nil, db.Classify(err, "service type")
	}
	defer rows.Close()
	var items []*ServiceTypeDef
	for rows.Next() {
		t, err := scanServiceType(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *serviceRepoPG) GetServiceType(ctx context.Context, id uuid.UUID) (*ServiceTypeDef, error) {
	return scanServiceType(r.conn(ctx).QueryRow(ctx, `SELECT `+serviceTypeCols+` FROM service_type WHERE id = $1`, id))
}
