//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/domain/notice"
	"github.com/clinicsuite/clinic/internal/domain/psychtest"
	"github.com/clinicsuite/clinic/internal/domain/scheduling"
	"github.com/clinicsuite/clinic/internal/domain/servicerequest"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/db"
	"github.com/clinicsuite/clinic/internal/platform/events"
	"github.com/clinicsuite/clinic/internal/platform/events/eventstest"
)

// pool is shared by every test in the package; it is migrated once in TestMain.
var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	url, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	pool, err = db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 20})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, migrationsDir()).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// stack is the set of services wired against the test database.
type stack struct {
	pub       *eventstest.Recorder
	directory *directory.Service
	scheduler *scheduling.Scheduler
	requests  *servicerequest.Service
	tests     *psychtest.Service
	notices   *notice.Service
}

func newStack() *stack {
	logger := zerolog.New(io.Discard)
	pub := &eventstest.Recorder{}
	tx := db.NewTransactor(pool)
	em := events.NewEmitter(pub, logger)
	clk := clock.New()

	dir := directory.NewService(directory.NewDoctorRepoPG(pool), directory.NewPatientRepoPG(pool))
	sched := scheduling.NewScheduler(scheduling.NewServiceRepoPG(pool), dir, tx, em, clk, logger)
	return &stack{
		pub:       pub,
		directory: dir,
		scheduler: sched,
		requests:  servicerequest.NewService(servicerequest.NewRepoPG(pool), sched, dir, tx, em, clk, logger),
		tests: psychtest.NewService(psychtest.NewTemplateRepoPG(pool), psychtest.NewInstanceRepoPG(pool),
			psychtest.NewAssessmentRepoPG(pool), dir, tx, em, clk, logger),
		notices: notice.NewService(notice.NewRepoPG(pool), sched, dir, tx, em, clk, logger, "IT"),
	}
}

// createUser inserts an app_user and returns a context authenticated as it.
func createUser(t *testing.T, role string) (uuid.UUID, context.Context) {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO app_user (id, email, full_name, role) VALUES ($1, $2, $3, $4)`,
		id, id.String()+"@clinic.test", "Test "+role, role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id, auth.WithUser(context.Background(), id.String(), role)
}

// createDoctor inserts an active doctor linked to a new user.
func createDoctor(t *testing.T) (uuid.UUID, context.Context) {
	t.Helper()
	userID, ctx := createUser(t, auth.RoleDoctor)
	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO doctor (user_id, first_name, last_name) VALUES ($1, 'Ana', 'Horvat') RETURNING id`,
		userID).Scan(&id)
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return id, ctx
}

// createPatient inserts a patient linked to a new user.
func createPatient(t *testing.T, first, last string) (uuid.UUID, context.Context) {
	t.Helper()
	userID, ctx := createUser(t, auth.RolePatient)
	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO patient (user_id, first_name, last_name) VALUES ($1, $2, $3) RETURNING id`,
		userID, first, last).Scan(&id)
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return id, ctx
}

func receptionist() context.Context {
	return auth.WithUser(context.Background(), uuid.NewString(), auth.RoleReceptionist)
}
