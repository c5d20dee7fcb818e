package notice

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/domain/scheduling"
	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/db"
	"github.com/clinicsuite/clinic/internal/platform/events"
	"github.com/clinicsuite/clinic/internal/platform/events/eventstest"
)

// -- Mocks --

type mockRepo struct {
	mu      sync.Mutex
	notices map[uuid.UUID]*Notice
	numbers map[string]bool
	seq     int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{notices: make(map[uuid.UUID]*Notice), numbers: make(map[string]bool)}
}

func (m *mockRepo) Create(_ context.Context, n *Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.UniqueNoticeNumber != nil {
		if m.numbers[*n.UniqueNoticeNumber] {
			return apperr.Conflict("notice number %s is already in use", *n.UniqueNoticeNumber)
		}
		m.numbers[*n.UniqueNoticeNumber] = true
	}
	n.CreatedAt = time.Now()
	cp := *n
	m.notices[n.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notices[id]
	if !ok {
		return nil, apperr.NotFound("notice not found")
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Notice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notice
	for _, n := range m.notices {
		if f.ParticipantID != nil && n.ParticipantID != *f.ParticipantID {
			continue
		}
		if f.ServiceID != nil && n.ServiceID != *f.ServiceID {
			continue
		}
		if f.PatientID != nil && n.PatientID != *f.PatientID {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) NextSequence(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *mockRepo) NumberTaken(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numbers[number], nil
}

type mockParticipants map[uuid.UUID]*scheduling.Participant

func (m mockParticipants) GetParticipant(_ context.Context, id uuid.UUID) (*scheduling.Participant, error) {
	p, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("participant not found")
	}
	return p, nil
}

type mockDirectory struct {
	doctors  map[string]*directory.Doctor
	patients map[string]*directory.Patient
}

func (m *mockDirectory) CurrentDoctor(ctx context.Context) (*directory.Doctor, error) {
	d, ok := m.doctors[auth.UserIDFromContext(ctx)]
	if !ok {
		return nil, apperr.Forbidden("current user has no doctor profile")
	}
	return d, nil
}

func (m *mockDirectory) CurrentPatient(ctx context.Context) (*directory.Patient, error) {
	p, ok := m.patients[auth.UserIDFromContext(ctx)]
	if !ok {
		return nil, apperr.Forbidden("current user has no patient record")
	}
	return p, nil
}

type fixture struct {
	svc   *Service
	repo  *mockRepo
	pub   *eventstest.Recorder
	clock *clock.Fixed

	serviceID   uuid.UUID
	participant *scheduling.Participant
	doctor      *directory.Doctor
	doctorCtx   context.Context
	patientCtx  context.Context
	otherCtx    context.Context
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{repo: newMockRepo(), pub: &eventstest.Recorder{}, clock: clock.NewFixed(testNow), serviceID: uuid.New()}
	f.participant = &scheduling.Participant{ID: uuid.New(), ServiceID: f.serviceID, PatientID: uuid.New()}
	parts := mockParticipants{f.participant.ID: f.participant}

	doctorUser, patientUser, otherUser := uuid.NewString(), uuid.NewString(), uuid.NewString()
	f.doctor = &directory.Doctor{ID: uuid.New(), Active: true}
	dir := &mockDirectory{
		doctors:  map[string]*directory.Doctor{doctorUser: f.doctor},
		patients: map[string]*directory.Patient{
			patientUser: {ID: f.participant.PatientID},
			otherUser:   {ID: uuid.New()},
		},
	}
	f.doctorCtx = auth.WithUser(context.Background(), doctorUser, auth.RoleDoctor)
	f.patientCtx = auth.WithUser(context.Background(), patientUser, auth.RolePatient)
	f.otherCtx = auth.WithUser(context.Background(), otherUser, auth.RolePatient)

	logger := zerolog.New(io.Discard)
	f.svc = NewService(f.repo, parts, dir, db.NopTransactor{}, events.NewEmitter(f.pub, logger), f.clock, logger, "MN")
	return f
}

func strPtr(s string) *string { return &s }

func assertKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := apperr.KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}

func TestCreate_ParticipantMustBelongToService(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(f.doctorCtx, CreateInput{ServiceID: uuid.New(), ParticipantID: f.participant.ID})
	assertKind(t, err, apperr.KindValidation)
	_, err = f.svc.Create(f.doctorCtx, CreateInput{ServiceID: f.serviceID, ParticipantID: uuid.New()})
	assertKind(t, err, apperr.KindValidation)
	if len(f.repo.notices) != 0 {
		t.Error("no notice may be stored")
	}
}

func TestCreate_GeneratesNumber(t *testing.T) {
	f := newFixture()
	n, err := f.svc.Create(f.doctorCtx, CreateInput{ServiceID: f.serviceID, ParticipantID: f.participant.ID, FitnessStatus: strPtr("fit")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.UniqueNoticeNumber == nil || *n.UniqueNoticeNumber != "MN-2026-000001" {
		t.Errorf("unexpected number %v", n.UniqueNoticeNumber)
	}
	if !n.IssueDate.Equal(testNow) || !n.Valid {
		t.Errorf("expected notice issued now and valid, got %+v", n)
	}
	if n.IssuedBy == nil || *n.IssuedBy != f.doctor.ID {
		t.Errorf("expected issued_by %s", f.doctor.ID)
	}
	if got := f.pub.Types(); len(got) != 1 || got[0] != events.NoticeIssued {
		t.Errorf("expected notice.issued, got %v", got)
	}
}

func TestCreate_DuplicateNumberConflicts(t *testing.T) {
	f := newFixture()
	in := CreateInput{ServiceID: f.serviceID, ParticipantID: f.participant.ID, UniqueNoticeNumber: strPtr("MN-7")}
	if _, err := f.svc.Create(f.doctorCtx, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.svc.Create(f.doctorCtx, in)
	assertKind(t, err, apperr.KindConflict)
}

func TestCreate_ExpiryBeforeIssue(t *testing.T) {
	f := newFixture()
	past := testNow.Add(-time.Hour)
	_, err := f.svc.Create(f.doctorCtx, CreateInput{ServiceID: f.serviceID, ParticipantID: f.participant.ID, ExpiryDate: &past})
	assertKind(t, err, apperr.KindValidation)
}

func TestGenerateNumber_SkipsManualNumbers(t *testing.T) {
	f := newFixture()
	f.repo.numbers["MN-2026-000001"] = true

	num, err := f.svc.GenerateNumber(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if num != "MN-2026-000002" {
		t.Errorf("expected MN-2026-000002, got %s", num)
	}
	again, _ := f.svc.GenerateNumber(context.Background())
	if again == num {
		t.Error("generated numbers must never repeat")
	}
}

func TestGet_ValidityIsDerived(t *testing.T) {
	f := newFixture()
	expiry := testNow.Add(24 * time.Hour)
	n, err := f.svc.Create(f.doctorCtx, CreateInput{ServiceID: f.serviceID, ParticipantID: f.participant.ID, ExpiryDate: &expiry})
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.Get(f.patientCtx, n.ID)
	if err != nil {
		t.Fatalf("owner should read notice: %v", err)
	}
	if !got.Valid {
		t.Error("expected notice to be valid before expiry")
	}

	f.clock.Advance(48 * time.Hour)
	got, _ = f.svc.Get(f.doctorCtx, n.ID)
	if got.Valid {
		t.Error("expected notice to be invalid after expiry")
	}
}

func TestGet_OtherPatientNotFound(t *testing.T) {
	f := newFixture()
	n, err := f.svc.Create(f.doctorCtx, CreateInput{ServiceID: f.serviceID, ParticipantID: f.participant.ID})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Get(f.otherCtx, n.ID)
	assertKind(t, err, apperr.KindNotFound)

	_, total, err := f.svc.List(f.otherCtx, ListFilter{}, 20, 0)
	if err != nil || total != 0 {
		t.Errorf("other patient must not list the notice, got %d (%v)", total, err)
	}

	items, total, err := f.svc.List(f.patientCtx, ListFilter{}, 20, 0)
	if err != nil || total != 1 || items[0].ID != n.ID {
		t.Errorf("owner should list own notice, got %d (%v)", total, err)
	}
}

func TestValidAt(t *testing.T) {
	n := &Notice{}
	if !n.ValidAt(testNow) {
		t.Error("notice without expiry is always valid")
	}
	exp := testNow
	n.ExpiryDate = &exp
	if n.ValidAt(testNow) {
		t.Error("notice expiring now is no longer valid")
	}
}
