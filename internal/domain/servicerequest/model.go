package servicerequest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicsuite/clinic/internal/domain/scheduling"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusScheduled Status = "scheduled"
)

// transitions is the request lifecycle. Rejected and scheduled are final.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusScheduled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusScheduled:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type PreferredTime string

const (
	TimeMorning   PreferredTime = "morning"
	TimeAfternoon PreferredTime = "afternoon"
	TimeEvening   PreferredTime = "evening"
)

func (t PreferredTime) Valid() bool {
	return t == TimeMorning || t == TimeAfternoon || t == TimeEvening
}

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(time.DateOnly))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	*d = Date{t}
	return nil
}

type Request struct {
	ID                uuid.UUID                  `json:"id"`
	PatientID         uuid.UUID                  `json:"patient_id"`
	ServiceTypeID     uuid.UUID                  `json:"service_type_id"`
	PreferredDoctorID *uuid.UUID                 `json:"preferred_doctor_id,omitempty"`
	PreferredDate1    Date                       `json:"preferred_date_1"`
	PreferredDate2    *Date                      `json:"preferred_date_2,omitempty"`
	PreferredDate3    *Date                      `json:"preferred_date_3,omitempty"`
	PreferredTime     PreferredTime              `json:"preferred_time"`
	Reason            string                     `json:"reason"`
	Urgent            bool                       `json:"urgent"`
	AdditionalNotes   *string                    `json:"additional_notes,omitempty"`
	Status            Status                     `json:"status"`
	RejectionReason   *string                    `json:"rejection_reason,omitempty"`
	ServiceID         *uuid.UUID                 `json:"service_id,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
	Patient           *scheduling.PatientSummary `json:"patient,omitempty"`
	ServiceTypeName   string                     `json:"service_type_name,omitempty"`
}

// PreferredDates returns the non-empty preferred dates in order.
func (r *Request) PreferredDates() []Date {
	out := []Date{r.PreferredDate1}
	for _, d := range []*Date{r.PreferredDate2, r.PreferredDate3} {
		if d != nil && !d.IsZero() {
			out = append(out, *d)
		}
	}
	return out
}

type ListFilter struct {
	Status    *Status
	PatientID *uuid.UUID
}
