package notice

import (
	"time"

	"github.com/google/uuid"
)

type Notice struct {
	ID                 uuid.UUID  `json:"id"`
	ServiceID          uuid.UUID  `json:"service_id"`
	ParticipantID      uuid.UUID  `json:"participant_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	IssueDate          time.Time  `json:"issue_date"`
	UniqueNoticeNumber *string    `json:"unique_notice_number,omitempty"`
	ExpiryDate         *time.Time `json:"expiry_date,omitempty"`
	ReasonForIssuance  *string    `json:"reason_for_issuance,omitempty"`
	FitnessStatus      *string    `json:"fitness_status,omitempty"`
	Recommendations    *string    `json:"recommendations,omitempty"`
	AttachmentPath     *string    `json:"attachment_path,omitempty"`
	IssuedBy           *uuid.UUID `json:"issued_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`

	// Valid is derived from ExpiryDate when the notice is read.
	Valid bool `json:"valid"`
}

// ValidAt reports whether the notice has not expired at now. A notice without
// an expiry date never expires.
func (n *Notice) ValidAt(now time.Time) bool {
	return n.ExpiryDate == nil || n.ExpiryDate.After(now)
}

type ListFilter struct {
	ServiceID     *uuid.UUID
	ParticipantID *uuid.UUID
	PatientID     *uuid.UUID
}
