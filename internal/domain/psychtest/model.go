package psychtest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionText           QuestionType = "TEXT"
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionScale          QuestionType = "SCALE"
)

func (t QuestionType) Valid() bool {
	return t == QuestionText || t == QuestionMultipleChoice || t == QuestionScale
}

// Scale bounds used when a SCALE question leaves them unset.
const (
	DefaultScaleMin = 1
	DefaultScaleMax = 5
)

type Question struct {
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Options  []string     `json:"options,omitempty"`
	MinValue *int         `json:"minValue,omitempty"`
	MaxValue *int         `json:"maxValue,omitempty"`
}

// Bounds returns the inclusive range a SCALE answer must fall in.
func (q Question) Bounds() (int, int) {
	lo, hi := DefaultScaleMin, DefaultScaleMax
	if q.MinValue != nil {
		lo = *q.MinValue
	}
	if q.MaxValue != nil {
		hi = *q.MaxValue
	}
	return lo, hi
}

type Template struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   *string   `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LatestVersion *Version  `json:"latest_version,omitempty"`
}

// Version is an immutable question set of a template.
type Version struct {
	ID         uuid.UUID  `json:"id"`
	TemplateID uuid.UUID  `json:"test_template_id"`
	Version    int        `json:"version"`
	Questions  []Question `json:"questionsJson"`
	CreatedAt  time.Time  `json:"created_at"`
}

type InstanceStatus string

const (
	InstancePending   InstanceStatus = "Pending"
	InstanceCompleted InstanceStatus = "Completed"
)

// Responses maps a question key (its zero-based index) to the answer.
type Responses map[string]interface{}

// Instance is one assignment of a template version to a patient.
type Instance struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	TemplateVersionID uuid.UUID  `json:"test_template_version_id"`
	AssignedBy        *uuid.UUID `json:"assigned_by,omitempty"`
	TestStartDate     *time.Time `json:"testStartDate"`
	TestStopDate      *time.Time `json:"testStopDate"`
	PatientResponse   Responses  `json:"patientResponse,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`

	TemplateName string     `json:"template_name,omitempty"`
	Version      int        `json:"version,omitempty"`
	Questions    []Question `json:"questions,omitempty"`
}

// Status is Completed once the patient has submitted.
func (i *Instance) Status() InstanceStatus {
	if i.TestStopDate != nil {
		return InstanceCompleted
	}
	return InstancePending
}

func (i *Instance) MarshalJSON() ([]byte, error) {
	type alias Instance
	return json.Marshal(struct {
		*alias
		Status InstanceStatus `json:"status"`
	}{(*alias)(i), i.Status()})
}
