package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ServiceType distinguishes one-to-one consultations from group sessions.
type ServiceType string

const (
	TypeConsultation      ServiceType = "Consultation"
	TypeGroupConsultation ServiceType = "GroupConsultation"
)

func (t ServiceType) Valid() bool {
	return t == TypeConsultation || t == TypeGroupConsultation
}

// participantBounds returns the allowed participant count; max 0 is unbounded.
func (t ServiceType) participantBounds() (min, max int) {
	if t == TypeConsultation {
		return 1, 1
	}
	return 1, 0
}

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// transitions lists every legal status change. Completed and Cancelled are
// terminal.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusCompleted, StatusCancelled},
}

func (s Status) Valid() bool {
	return s == StatusScheduled || s == StatusCompleted || s == StatusCancelled
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type AttendanceStatus string

const (
	AttendanceExpected AttendanceStatus = "Expected"
	AttendanceAttended AttendanceStatus = "Attended"
	AttendanceNoShow   AttendanceStatus = "NoShow"
	AttendanceExcused  AttendanceStatus = "Excused"
)

// Recordable reports whether staff may set a participant to a. Expected is
// only ever the initial value.
func (a AttendanceStatus) Recordable() bool {
	return a == AttendanceAttended || a == AttendanceNoShow || a == AttendanceExcused
}

type DoctorSummary struct {
	ID             uuid.UUID `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Specialization *string   `json:"specialization,omitempty"`
}

type PatientSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

func (p *PatientSummary) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Service struct {
	ID            uuid.UUID      `json:"id"`
	ServiceTypeID *uuid.UUID     `json:"service_type_id,omitempty"`
	Type          ServiceType    `json:"type"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Status        Status         `json:"status"`
	CancelReason  *string        `json:"cancel_reason,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Doctor        *DoctorSummary `json:"doctor,omitempty"`
	Participants  []*Participant `json:"participants"`
}

// HasPatient reports whether patientID is one of the service's participants.
func (s *Service) HasPatient(patientID uuid.UUID) bool {
	for _, p := range s.Participants {
		if p.PatientID == patientID {
			return true
		}
	}
	return false
}

type Participant struct {
	ID               uuid.UUID        `json:"id"`
	ServiceID        uuid.UUID        `json:"service_id"`
	PatientID        uuid.UUID        `json:"patient_id"`
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
	CreatedAt        time.Time        `json:"created_at"`
	Patient          *PatientSummary  `json:"patient,omitempty"`
}

// ServiceTypeDef is a catalog entry patients choose from when requesting a
// service.
type ServiceTypeDef struct {
	ID                     uuid.UUID   `json:"id"`
	Code                   string      `json:"code"`
	Name                   string      `json:"name"`
	Kind                   ServiceType `json:"kind"`
	DefaultDurationMinutes int         `json:"default_duration_minutes"`
	Active                 bool        `json:"active"`
}

// ListFilter narrows service listings. Nil fields do not filter.
type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
}

// CalendarEvent is a service projected for calendar display.
type CalendarEvent struct {
	ID           uuid.UUID   `json:"id"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	Title        string      `json:"title"`
	Type         ServiceType `json:"type"`
	Status       Status      `json:"status"`
	DoctorID     uuid.UUID   `json:"doctor_id"`
	Participants []string    `json:"participants"`
}
