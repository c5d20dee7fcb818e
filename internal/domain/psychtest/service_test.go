package psychtest

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/db"
	"github.com/clinicsuite/clinic/internal/platform/events"
	"github.com/clinicsuite/clinic/internal/platform/events/eventstest"
)

// -- Mock Repositories --

type mockTemplateRepo struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*Template
	versions  map[uuid.UUID]*Version
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{templates: make(map[uuid.UUID]*Template), versions: make(map[uuid.UUID]*Version)}
}

func (m *mockTemplateRepo) CreateTemplate(_ context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	m.templates[t.ID] = t
	return nil
}

func (m *mockTemplateRepo) GetTemplate(_ context.Context, id uuid.UUID) (*Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, apperr.NotFound("test template not found")
	}
	return t, nil
}

func (m *mockTemplateRepo) ListTemplates(_ context.Context, limit, offset int) ([]*Template, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Template
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockTemplateRepo) CreateVersion(_ context.Context, templateID uuid.UUID, questions []Question) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[templateID]
	if !ok {
		return nil, apperr.NotFound("test template not found")
	}
	next := 1
	for _, v := range m.versions {
		if v.TemplateID == templateID && v.Version >= next {
			next = v.Version + 1
		}
	}
	v := &Version{ID: uuid.New(), TemplateID: templateID, Version: next, Questions: questions, CreatedAt: time.Now()}
	m.versions[v.ID] = v
	t.LatestVersion = v
	return v, nil
}

func (m *mockTemplateRepo) GetVersion(_ context.Context, id uuid.UUID) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, apperr.NotFound("test template version not found")
	}
	return v, nil
}

type mockInstanceRepo struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*Instance
}

func (m *mockInstanceRepo) Create(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst.CreatedAt = time.Now()
	cp := *inst
	m.instances[inst.ID] = &cp
	return nil
}

func (m *mockInstanceRepo) GetByID(_ context.Context, id uuid.UUID) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, apperr.NotFound("test instance not found")
	}
	cp := *inst
	return &cp, nil
}

func (m *mockInstanceRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status *InstanceStatus) ([]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Instance
	for _, inst := range m.instances {
		if inst.PatientID != patientID || (status != nil && inst.Status() != *status) {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockInstanceRepo) Submit(_ context.Context, id uuid.UUID, responses Responses, stoppedAt time.Time) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.TestStopDate != nil {
		return nil, nil
	}
	inst.TestStopDate = &stoppedAt
	inst.PatientResponse = responses
	cp := *inst
	return &cp, nil
}

type mockAssessmentRepo struct {
	items []*Assessment
}

func (m *mockAssessmentRepo) Create(_ context.Context, a *Assessment) error {
	m.items = append(m.items, a)
	return nil
}

func (m *mockAssessmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Assessment, error) {
	var out []*Assessment
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

type mockDirectory struct {
	patients map[uuid.UUID]*directory.Patient
	byUser   map[string]*directory.Patient
	doctors  map[string]*directory.Doctor
}

func (m *mockDirectory) GetPatient(_ context.Context, id uuid.UUID) (*directory.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient not found")
	}
	return p, nil
}

func (m *mockDirectory) CurrentPatient(ctx context.Context) (*directory.Patient, error) {
	p, ok := m.byUser[auth.UserIDFromContext(ctx)]
	if !ok {
		return nil, apperr.Forbidden("current user has no patient record")
	}
	return p, nil
}

func (m *mockDirectory) CurrentDoctor(ctx context.Context) (*directory.Doctor, error) {
	d, ok := m.doctors[auth.UserIDFromContext(ctx)]
	if !ok {
		return nil, apperr.Forbidden("current user has no doctor profile")
	}
	return d, nil
}

type fixture struct {
	svc         *Service
	templates   *mockTemplateRepo
	instances   *mockInstanceRepo
	assessments *mockAssessmentRepo
	dir         *mockDirectory
	pub         *eventstest.Recorder
	clock       *clock.Fixed

	patient    *directory.Patient
	doctor     *directory.Doctor
	patientCtx context.Context
	doctorCtx  context.Context
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		templates:   newMockTemplateRepo(),
		instances:   &mockInstanceRepo{instances: make(map[uuid.UUID]*Instance)},
		assessments: &mockAssessmentRepo{},
		dir: &mockDirectory{
			patients: make(map[uuid.UUID]*directory.Patient),
			byUser:   make(map[string]*directory.Patient),
			doctors:  make(map[string]*directory.Doctor),
		},
		pub:   &eventstest.Recorder{},
		clock: clock.NewFixed(testNow),
	}
	logger := zerolog.New(io.Discard)
	f.svc = NewService(f.templates, f.instances, f.assessments, f.dir, db.NopTransactor{}, events.NewEmitter(f.pub, logger), f.clock, logger)

	patientUser, doctorUser := uuid.NewString(), uuid.NewString()
	f.patient = &directory.Patient{ID: uuid.New(), FirstName: "Marko", LastName: "Marić"}
	f.dir.patients[f.patient.ID] = f.patient
	f.dir.byUser[patientUser] = f.patient
	f.doctor = &directory.Doctor{ID: uuid.New(), FirstName: "Ana", LastName: "Kovač", Active: true}
	f.dir.doctors[doctorUser] = f.doctor

	f.patientCtx = auth.WithUser(context.Background(), patientUser, auth.RolePatient)
	f.doctorCtx = auth.WithUser(context.Background(), doctorUser, auth.RoleDoctor)
	return f
}

func (f *fixture) template(t *testing.T) *Template {
	t.Helper()
	tpl, err := f.svc.CreateTemplate(f.doctorCtx, CreateTemplateInput{Name: "Sleep diary", Questions: sampleQuestions})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func (f *fixture) assigned(t *testing.T) *Instance {
	t.Helper()
	tpl := f.template(t)
	inst, err := f.svc.Assign(f.doctorCtx, AssignInput{PatientID: f.patient.ID, TestTemplateVersionID: tpl.LatestVersion.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return inst
}

var validResponses = Responses{"0": "tired", "1": "green", "2": 2.0}

func assertKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := apperr.KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}

// -- Templates --

func TestCreateTemplate_StartsAtVersionOne(t *testing.T) {
	f := newFixture()
	tpl := f.template(t)
	if tpl.LatestVersion == nil || tpl.LatestVersion.Version != 1 {
		t.Fatalf("expected version 1, got %+v", tpl.LatestVersion)
	}

	v, err := f.svc.AddVersion(f.doctorCtx, tpl.ID, sampleQuestions[:2])
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if v.Version != 2 {
		t.Errorf("expected version 2, got %d", v.Version)
	}
	old, _ := f.templates.GetVersion(context.Background(), tpl.LatestVersion.ID)
	if len(old.Questions) != len(sampleQuestions) {
		t.Error("earlier version must keep its questions")
	}
}

func TestCreateTemplate_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateTemplate(f.doctorCtx, CreateTemplateInput{Name: " ", Questions: sampleQuestions})
	assertKind(t, err, apperr.KindValidation)
	_, err = f.svc.CreateTemplate(f.doctorCtx, CreateTemplateInput{Name: "Empty"})
	assertKind(t, err, apperr.KindValidation)
	_, err = f.svc.AddVersion(f.doctorCtx, uuid.New(), sampleQuestions)
	assertKind(t, err, apperr.KindNotFound)
}

// -- Assign / Submit --

func TestAssign_StartsPending(t *testing.T) {
	f := newFixture()
	inst := f.assigned(t)
	if inst.TestStartDate == nil || !inst.TestStartDate.Equal(testNow) {
		t.Errorf("expected start date %s, got %v", testNow, inst.TestStartDate)
	}
	if inst.TestStopDate != nil || inst.Status() != InstancePending {
		t.Errorf("new instance must be pending")
	}
	if inst.AssignedBy == nil || *inst.AssignedBy != f.doctor.ID {
		t.Errorf("expected assigned_by %s, got %v", f.doctor.ID, inst.AssignedBy)
	}
	if got := f.pub.Types(); len(got) != 1 || got[0] != events.TestAssigned {
		t.Errorf("expected test.assigned, got %v", got)
	}
}

func TestAssign_Validation(t *testing.T) {
	f := newFixture()
	tpl := f.template(t)
	_, err := f.svc.Assign(f.doctorCtx, AssignInput{PatientID: uuid.New(), TestTemplateVersionID: tpl.LatestVersion.ID})
	assertKind(t, err, apperr.KindValidation)
	_, err = f.svc.Assign(f.doctorCtx, AssignInput{PatientID: f.patient.ID, TestTemplateVersionID: uuid.New()})
	assertKind(t, err, apperr.KindValidation)
}

func TestSubmit_OnceOnly(t *testing.T) {
	f := newFixture()
	inst := f.assigned(t)
	f.clock.Advance(30 * time.Minute)

	done, err := f.svc.Submit(f.patientCtx, inst.ID, validResponses)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status() != InstanceCompleted || !done.TestStopDate.Equal(testNow.Add(30*time.Minute)) {
		t.Errorf("unexpected instance after submit %+v", done)
	}
	if done.PatientResponse["1"] != "green" {
		t.Errorf("responses must be stored verbatim, got %v", done.PatientResponse)
	}

	// A completed test is rejected regardless of payload.
	_, err = f.svc.Submit(f.patientCtx, inst.ID, Responses{"garbage": true})
	assertKind(t, err, apperr.KindInvalidState)
	_, err = f.svc.Submit(f.patientCtx, inst.ID, validResponses)
	assertKind(t, err, apperr.KindInvalidState)
}

func TestSubmit_ScaleOutOfRange(t *testing.T) {
	f := newFixture()
	inst := f.assigned(t)
	_, err := f.svc.Submit(f.patientCtx, inst.ID, Responses{"0": "ok", "1": "red", "2": "6"})
	assertKind(t, err, apperr.KindValidation)
	if apperr.Message(err) != "question 2: answer 6 is outside 1..5" {
		t.Errorf("unexpected message %q", apperr.Message(err))
	}
	stored, _ := f.instances.GetByID(context.Background(), inst.ID)
	if stored.TestStopDate != nil {
		t.Error("rejected submission must not complete the test")
	}
}

func TestSubmit_OtherPatientForbidden(t *testing.T) {
	f := newFixture()
	inst := f.assigned(t)
	otherUser := uuid.NewString()
	f.dir.byUser[otherUser] = &directory.Patient{ID: uuid.New()}
	_, err := f.svc.Submit(auth.WithUser(context.Background(), otherUser, auth.RolePatient), inst.ID, validResponses)
	assertKind(t, err, apperr.KindAuthorization)
}

func TestSubmit_ConcurrentOnlyOneCompletes(t *testing.T) {
	f := newFixture()
	inst := f.assigned(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(f.patientCtx, inst.ID, validResponses)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if apperr.KindOf(err) != apperr.KindInvalidState {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful submission, got %d", ok)
	}
}

func TestListMine_StatusFilter(t *testing.T) {
	f := newFixture()
	first := f.assigned(t)
	f.assigned(t)
	if _, err := f.svc.Submit(f.patientCtx, first.ID, validResponses); err != nil {
		t.Fatal(err)
	}

	pending := InstancePending
	items, err := f.svc.ListMine(f.patientCtx, &pending)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID == first.ID {
		t.Errorf("expected only the pending instance, got %d", len(items))
	}

	_, err = f.svc.ListForPatient(f.patientCtx, uuid.New(), nil)
	assertKind(t, err, apperr.KindNotFound)
	all, err := f.svc.ListForPatient(f.doctorCtx, f.patient.ID, nil)
	if err != nil || len(all) != 2 {
		t.Errorf("staff should see both instances, got %d (%v)", len(all), err)
	}
}

// -- Initial assessment --

func TestSubmitAssessment(t *testing.T) {
	f := newFixture()
	a, err := f.svc.SubmitAssessment(f.patientCtx, allAnswers("Often"))
	if err != nil {
		t.Fatalf("submit assessment: %v", err)
	}
	if a.TotalScore != 45 || a.MaxScore != 60 || a.Interpretation != InterpretationVeryHigh {
		t.Errorf("unexpected result %+v", a)
	}

	results, err := f.svc.Results(f.patientCtx, nil)
	if err != nil || len(results) != 1 {
		t.Fatalf("expected one result, got %d (%v)", len(results), err)
	}
	staffView, err := f.svc.Results(f.doctorCtx, &f.patient.ID)
	if err != nil || len(staffView) != 1 {
		t.Errorf("staff should see the result, got %d (%v)", len(staffView), err)
	}
	if got := f.pub.Types(); len(got) != 1 || got[0] != events.AssessmentScored {
		t.Errorf("expected assessment.scored, got %v", got)
	}
}

func TestInstance_JSONStatus(t *testing.T) {
	inst := &Instance{ID: uuid.New()}
	b, err := inst.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if want := `"status":"Pending"`; !strings.Contains(string(b), want) {
		t.Errorf("expected %s in %s", want, b)
	}
}
