package psychtest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsuite/clinic/internal/platform/db"
)

// -- Templates --

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

func (r *templateRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *templateRepoPG) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_template (id, name, description) VALUES ($1, $2, $3)
		RETURNING created_at`, t.ID, t.Name, t.Description).Scan(&t.CreatedAt)
	return db.Classify(err, "test template")
}

const latestVersionJoin = `
	LEFT JOIN LATERAL (
		SELECT v.id, v.version, v.questions_json, v.created_at
		FROM test_template_version v
		WHERE v.test_template_id = t.id
		ORDER BY v.version DESC LIMIT 1
	) lv ON TRUE`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var vID *uuid.UUID
	var vNum *int
	var vQuestions []byte
	var vCreated *time.Time
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt, &vID, &vNum, &vQuestions, &vCreated); err != nil {
		return nil, db.Classify(err, "test template")
	}
	if vID != nil {
		v := &Version{ID: *vID, TemplateID: t.ID, Version: *vNum, CreatedAt: *vCreated}
		if err := json.Unmarshal(vQuestions, &v.Questions); err != nil {
			return nil, err
		}
		t.LatestVersion = v
	}
	return &t, nil
}

const templateSelect = `SELECT t.id, t.name, t.description, t.created_at,
	lv.id, lv.version, lv.questions_json, lv.created_at
	FROM test_template t` + latestVersionJoin

func (r *templateRepoPG) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return scanTemplate(r.conn(ctx).QueryRow(ctx, templateSelect+` WHERE t.id = $1`, id))
}

func (r *templateRepoPG) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM test_template`).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "test template")
	}
	rows, err := q.Query(ctx, templateSelect+` ORDER BY t.name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "test template")
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *templateRepoPG) CreateVersion(ctx context.Context, templateID uuid.UUID, questions []Question) (*Version, error) {
	data, err := json.Marshal(questions)
	if err != nil {
		return nil, err
	}
	v := &Version{ID: uuid.New(), TemplateID: templateID, Questions: questions}
	err = db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		var locked uuid.UUID
		if err := q.QueryRow(ctx, `SELECT id FROM test_template WHERE id = $1 FOR UPDATE`, templateID).Scan(&locked); err != nil {
			return db.Classify(err, "test template")
		}
		err := q.QueryRow(ctx, `
			INSERT INTO test_template_version (id, test_template_id, version, questions_json)
			SELECT $1::uuid, $2::uuid, COALESCE(MAX(version), 0) + 1, $3::jsonb
			FROM test_template_version WHERE test_template_id = $2
			RETURNING version, created_at`, v.ID, templateID, data).Scan(&v.Version, &v.CreatedAt)
		return db.Classify(err, "test template version")
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *templateRepoPG) GetVersion(ctx context.Context, id uuid.UUID) (*Version, error) {
	var v Version
	var data []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, test_template_id, version, questions_json, created_at
		FROM test_template_version WHERE id = $1`, id).
		Scan(&v.ID, &v.TemplateID, &v.Version, &data, &v.CreatedAt)
	if err != nil {
		return nil, db.Classify(err, "test template version")
	}
	if err := json.Unmarshal(data, &v.Questions); err != nil {
		return nil, err
	}
	return &v, nil
}

// -- Instances --

type instanceRepoPG struct{ pool *pgxpool.Pool }

func NewInstanceRepoPG(pool *pgxpool.Pool) InstanceRepository { return &instanceRepoPG{pool: pool} }

func (r *instanceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const instanceSelect = `SELECT i.id, i.patient_id, i.test_template_version_id, i.assigned_by,
	i.test_start_date, i.test_stop_date, i.patient_response, i.created_at,
	t.name, v.version, v.questions_json
	FROM test_instance i
	JOIN test_template_version v ON v.id = i.test_template_version_id
	JOIN test_template t ON t.id = v.test_template_id`

func scanInstance(row pgx.Row) (*Instance, error) {
	var i Instance
	var response, questions []byte
	err := row.Scan(&i.ID, &i.PatientID, &i.TemplateVersionID, &i.AssignedBy,
		&i.TestStartDate, &i.TestStopDate, &response, &i.CreatedAt,
		&i.TemplateName, &i.Version, &questions)
	if err != nil {
		return nil, db.Classify(err, "test instance")
	}
	if len(response) > 0 {
		if err := json.Unmarshal(response, &i.PatientResponse); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(questions, &i.Questions); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *instanceRepoPG) Create(ctx context.Context, inst *Instance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_instance (id, patient_id, test_template_version_id, assigned_by, test_start_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		inst.ID, inst.PatientID, inst.TemplateVersionID, inst.AssignedBy, inst.TestStartDate,
	).Scan(&inst.CreatedAt)
	return db.Classify(err, "test instance")
}

func (r *instanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return scanInstance(r.conn(ctx).QueryRow(ctx, instanceSelect+` WHERE i.id = $1`, id))
}

func (r *instanceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status *InstanceStatus) ([]*Instance, error) {
	query := instanceSelect + ` WHERE i.patient_id = $1`
	if status != nil {
		if *status == InstanceCompleted {
			query += ` AND i.test_stop_date IS NOT NULL`
		} else {
			query += ` AND i.test_stop_date IS NULL`
		}
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY i.created_at DESC`, patientID)
	if err != nil {
		return nil, db.Classify(err, "test instance")
	}
	defer rows.Close()
	var items []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	return items, rows.Err()
}

func (r *instanceRepoPG) Submit(ctx context.Context, id uuid.UUID, responses Responses, stoppedAt time.Time) (*Instance, error) {
	data, err := json.Marshal(responses)
	if err != nil {
		return nil, err
	}
	var got uuid.UUID
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE test_instance SET test_stop_date = $2, patient_response = $3
		WHERE id = $1 AND test_stop_date IS NULL
		RETURNING id`, id, stoppedAt, data).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err, "test instance")
	}
	return r.GetByID(ctx, got)
}

// -- Initial assessments --

type assessmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssessmentRepoPG(pool *pgxpool.Pool) AssessmentRepository { return &assessmentRepoPG{pool: pool} }

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	responses, err := json.Marshal(a.Responses)
	if err != nil {
		return err
	}
	subscales, err := json.Marshal(a.Subscales)
	if err != nil {
		return err
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO initial_assessment (id, patient_id, responses, subscales, total_score, max_score, interpretation, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PatientID, responses, subscales, a.TotalScore, a.MaxScore, a.Interpretation, a.SubmittedAt)
	return db.Classify(err, "initial assessment")
}

func (r *assessmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Assessment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, responses, subscales, total_score, max_score, interpretation, submitted_at
		FROM initial_assessment WHERE patient_id = $1
		ORDER BY submitted_at DESC`, patientID)
	if err != nil {
		return nil, db.Classify(err, "initial assessment")
	}
	defer rows.Close()
	var items []*Assessment
	for rows.Next() {
		var a Assessment
		var responses, subscales []byte
		if err := rows.Scan(&a.ID, &a.PatientID, &responses, &subscales, &a.TotalScore, &a.MaxScore, &a.Interpretation, &a.SubmittedAt); err != nil {
			return nil, db.Classify(err, "initial assessment")
		}
		if err := json.Unmarshal(responses, &a.Responses); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(subscales, &a.Subscales); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
