package notice

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const noticeCols = `n.id, n.service_id, n.participant_id, sp.patient_id, n.issue_date,
	n.unique_notice_number, n.expiry_date, n.reason_for_issuance, n.fitness_status,
	n.recommendations, n.attachment_path, n.issued_by, n.created_at`

const noticeFrom = ` FROM notice n JOIN service_participant sp ON sp.id = n.participant_id`

func scanNotice(row pgx.Row) (*Notice, error) {
	var n Notice
	err := row.Scan(&n.ID, &n.ServiceID, &n.ParticipantID, &n.PatientID, &n.IssueDate,
		&n.UniqueNoticeNumber, &n.ExpiryDate, &n.ReasonForIssuance, &n.FitnessStatus,
		&n.Recommendations, &n.AttachmentPath, &n.IssuedBy, &n.CreatedAt)
	if err != nil {
		return nil, db.Classify(err, "notice")
	}
	return &n, nil
}

func (r *repoPG) Create(ctx context.Context, n *Notice) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notice (id, service_id, participant_id, issue_date, unique_notice_number, expiry_date,
			reason_for_issuance, fitness_status, recommendations, attachment_path, issued_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		n.ID, n.ServiceID, n.ParticipantID, n.IssueDate, n.UniqueNoticeNumber, n.ExpiryDate,
		n.ReasonForIssuance, n.FitnessStatus, n.Recommendations, n.AttachmentPath, n.IssuedBy,
	).Scan(&n.CreatedAt)
	if db.IsUniqueViolation(err, "notice_number_key") {
		return &apperr.Error{Kind: apperr.KindConflict, Message: fmt.Sprintf("notice number %s is already in use", *n.UniqueNoticeNumber), Err: err}
	}
	return db.Classify(err, "notice")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notice, error) {
	return scanNotice(r.conn(ctx).QueryRow(ctx, `SELECT `+noticeCols+noticeFrom+` WHERE n.id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Notice, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.ServiceID != nil {
		where += fmt.Sprintf(` AND n.service_id = $%d`, idx)
		args = append(args, *f.ServiceID)
		idx++
	}
	if f.ParticipantID != nil {
		where += fmt.Sprintf(` AND n.participant_id = $%d`, idx)
		args = append(args, *f.ParticipantID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND sp.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}

	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*)`+noticeFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "notice")
	}

	query := `SELECT ` + noticeCols + noticeFrom + where +
		fmt.Sprintf(` ORDER BY n.issue_date DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err, "notice")
	}
	defer rows.Close()
	var items []*Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *repoPG) NextSequence(ctx context.Context) (int64, error) {
	var n int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('notice_number_seq')`).Scan(&n); err != nil {
		return 0, db.Classify(err, "notice number")
	}
	return n, nil
}

func (r *repoPG) NumberTaken(ctx context.Context, number string) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notice WHERE unique_notice_number = $1)`, number).Scan(&taken)
	if err != nil {
		return false, db.Classify(err, "notice")
	}
	return taken, nil
}
