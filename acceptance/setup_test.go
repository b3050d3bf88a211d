package acceptance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/bikeshare-backend/achievement"
	"github.com/semanticallynull/bikeshare-backend/api"
	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/database"
	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/internal/o11y"
	"github.com/semanticallynull/bikeshare-backend/ledger"
	"github.com/semanticallynull/bikeshare-backend/member"
	"github.com/semanticallynull/bikeshare-backend/outbox"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/ranking"
	"github.com/semanticallynull/bikeshare-backend/rental"
	"github.com/semanticallynull/bikeshare-backend/station"
	"github.com/semanticallynull/bikeshare-backend/ticket"
)

const (
	opsUser     = "ops"
	opsPassword = "secret"
)

// start is a Wednesday.
var start = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

type TestServer struct {
	DB         *sqlx.DB
	Router     *gin.Engine
	Clock      *clock.Fake
	Engine     *rental.Engine
	Bikes      *bike.Repository
	Stations   *station.Repository
	Members    *member.Repository
	Points     *ledger.Ledger
	Tickets    *ticket.Repository
	Evaluator  *achievement.Evaluator
	Rankings   *ranking.Aggregator
	Dispatcher *outbox.Dispatcher
	Charger    *payment.FakeCharger
	UserInfo   *auth0.FakeClient
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	cleanupTestData(t, db)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(start)
	runner := database.NewTxRunner(db, database.DefaultLockTimeout)

	ts := &TestServer{
		DB:       db,
		Clock:    clk,
		Bikes:    bike.NewRepository(db),
		Stations: station.NewRepository(db),
		Members:  member.NewRepository(db),
		Points:   ledger.New(runner, clk),
		Charger:  payment.NewFakeCharger(),
		UserInfo: auth0.NewFakeClient(),
	}
	ts.Tickets = ticket.NewRepository(runner, ts.Points, clk)
	ts.Evaluator = achievement.NewEvaluator(runner, ts.Points, clk, time.UTC, logger)
	if err := ts.Evaluator.SyncCatalog(ctx, achievement.DefaultCatalog()); err != nil {
		t.Fatalf("failed to sync achievements: %v", err)
	}
	ts.Rankings = ranking.NewAggregator(runner, ts.Points, clk, time.UTC, logger)

	ts.Dispatcher = outbox.NewDispatcher(db, clk, logger, outbox.Config{})
	ts.Dispatcher.Handle(achievement.TaskEvaluate, ts.Evaluator.HandleTask)
	ts.Dispatcher.Handle(ledger.TaskTopUp, ts.Points.HandleTopUp)

	ts.Engine = rental.NewEngine(rental.Deps{
		Runner:   runner,
		Bikes:    ts.Bikes,
		Stations: ts.Stations,
		Members:  ts.Members,
		Access:   ts.Tickets,
		Notifier: ts.Dispatcher,
		Clock:    clk,
		Logger:   logger,
	})

	obs := &o11y.Observability{Logger: logger, Registry: prometheus.NewRegistry()}
	a, err := api.New(api.Deps{
		Engine:       ts.Engine,
		Bikes:        ts.Bikes,
		Stations:     ts.Stations,
		Members:      ts.Members,
		Tickets:      ts.Tickets,
		Points:       ts.Points,
		Achievements: ts.Evaluator,
		Rankings:     ts.Rankings,
		Charger:      ts.Charger,
		UserInfo:     ts.UserInfo,
		Clock:        clk,
	}, obs, api.Config{
		MetricsUsername: opsUser,
		MetricsPassword: opsPassword,
		Auth:            middleware.HeaderAuth(),
	})
	if err != nil {
		t.Fatalf("failed to build api: %v", err)
	}
	ts.Router = a.Router()

	return ts
}

func cleanupTestData(t *testing.T, db *sqlx.DB) {
	t.Helper()

	_, err := db.Exec(`TRUNCATE weekly_rewards, weekly_rankings, member_achievements, achievements,
		outbox_tasks, ledger_entries, tickets, rental_episodes, bikes, stations, members CASCADE`)
	if err != nil {
		t.Fatalf("failed to clean test data: %v", err)
	}
}

// Helper methods for making requests
func (ts *TestServer) GET(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) POST(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func as(auth0ID string) map[string]string {
	return map[string]string{"X-User-ID": auth0ID}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["code"] != code {
		t.Fatalf("expected code %s, got %v", code, resp["code"])
	}
}

// CreateStation inserts a station with no bikes. A nil location leaves the
// coordinates unknown.
func (ts *TestServer) CreateStation(t *testing.T, name string, location *[2]float64) uuid.UUID {
	t.Helper()
	var lat, lng *float64
	if location != nil {
		lat, lng = &location[0], &location[1]
	}
	var id uuid.UUID
	err := ts.DB.Get(&id, `
		INSERT INTO stations (id, name, address, location, available_count)
		VALUES (gen_random_uuid(), $1, 'Test Address',
		        CASE WHEN $2::float8 IS NULL THEN NULL ELSE point($2::float8, $3::float8) END, 0)
		RETURNING id
	`, name, lat, lng)
	if err != nil {
		t.Fatalf("failed to create test station: %v", err)
	}
	return id
}

// CreateBike docks a new bike at stationID and bumps the station count.
func (ts *TestServer) CreateBike(t *testing.T, label string, stationID uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := ts.DB.Get(&id, `
		INSERT INTO bikes (id, label, station_id, lock_state, condition)
		VALUES (gen_random_uuid(), $1, $2, 'LOCKED', 'NORMAL')
		RETURNING id
	`, label, stationID)
	if err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	if _, err := ts.DB.Exec(`UPDATE stations SET available_count = available_count + 1 WHERE id = $1`, stationID); err != nil {
		t.Fatalf("failed to count test bike: %v", err)
	}
	return id
}

func (ts *TestServer) CreateMember(t *testing.T, auth0ID string) *member.Member {
	t.Helper()
	m, err := ts.Members.GetOrCreateMember(context.Background(), auth0ID)
	if err != nil {
		t.Fatalf("failed to create member: %v", err)
	}
	return m
}

// CreateRider creates a member holding a WEEK ticket and 7000 points left.
func (ts *TestServer) CreateRider(t *testing.T, auth0ID string) *member.Member {
	t.Helper()
	ctx := context.Background()
	m := ts.CreateMember(t, auth0ID)
	if _, err := ts.Points.Credit(ctx, m.ID, 10000, "test funds"); err != nil {
		t.Fatalf("failed to fund rider: %v", err)
	}
	if _, err := ts.Tickets.Purchase(ctx, m.ID, ticket.Week); err != nil {
		t.Fatalf("failed to buy ticket: %v", err)
	}
	return m
}

// InsertRide records a closed episode directly, bypassing the engine.
func (ts *TestServer) InsertRide(t *testing.T, memberID, bikeID, from, to uuid.UUID, end time.Time, km float64) {
	t.Helper()
	_, err := ts.DB.Exec(`
		INSERT INTO rental_episodes (id, member_id, bike_id, start_station_id, end_station_id, start_time, end_time, distance_km)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
	`, memberID, bikeID, from, to, end.Add(-20*time.Minute), end, km)
	if err != nil {
		t.Fatalf("failed to insert ride: %v", err)
	}
}

func (ts *TestServer) Balance(t *testing.T, memberID uuid.UUID) int64 {
	t.Helper()
	b, err := ts.Points.Balance(context.Background(), memberID)
	if err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	return b
}

func (ts *TestServer) AvailableCount(t *testing.T, stationID uuid.UUID) int {
	t.Helper()
	s, err := ts.Stations.GetStation(context.Background(), stationID)
	if err != nil {
		t.Fatalf("failed to read station: %v", err)
	}
	return s.AvailableCount
}

func (ts *TestServer) Bike(t *testing.T, id uuid.UUID) bike.Bike {
	t.Helper()
	b, err := ts.Bikes.GetBikeByID(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to read bike: %v", err)
	}
	return b
}

// CheckInvariants verifies the cross-table invariants that every operation
// must preserve.
func (ts *TestServer) CheckInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	bikes, err := ts.Bikes.GetBikes(ctx)
	if err != nil {
		t.Fatalf("check bike placement: %v", err)
	}
	var misplaced []bike.Bike
	for _, b := range bikes {
		if !b.Consistent() {
			misplaced = append(misplaced, b)
		}
	}
	if len(misplaced) > 0 {
		t.Errorf("bikes with lock state inconsistent with placement:\n%s", spew.Sdump(misplaced))
	}

	drift, err := ts.Stations.Audit(ctx)
	if err != nil {
		t.Fatalf("audit stations: %v", err)
	}
	if len(drift) > 0 {
		t.Errorf("station inventory drift:\n%s", spew.Sdump(drift))
	}

	var unmatched []struct {
		BikeID    uuid.UUID `db:"bike_id"`
		LockState *string   `db:"lock_state"`
		Open      int       `db:"open"`
	}
	err = ts.DB.Select(&unmatched, `
		SELECT b.id AS bike_id, b.lock_state, count(e.id) AS open
		FROM bikes b
		LEFT JOIN rental_episodes e ON e.bike_id = b.id AND e.end_time IS NULL
		GROUP BY b.id, b.lock_state
		HAVING (b.lock_state = 'IN_USE' AND count(e.id) <> 1)
		    OR (b.lock_state = 'LOCKED' AND count(e.id) <> 0)
	`)
	if err != nil {
		t.Fatalf("check open episodes: %v", err)
	}
	if len(unmatched) > 0 {
		t.Errorf("bikes whose state disagrees with open episodes:\n%s", spew.Sdump(unmatched))
	}

	var ledgerDrift []struct {
		MemberID uuid.UUID `db:"id"`
		Balance  int64     `db:"balance"`
		Sum      int64     `db:"sum"`
	}
	err = ts.DB.Select(&ledgerDrift, `
		SELECT m.id, m.balance, COALESCE(sum(l.amount), 0) AS sum
		FROM members m
		LEFT JOIN ledger_entries l ON l.member_id = m.id
		GROUP BY m.id, m.balance
		HAVING m.balance <> COALESCE(sum(l.amount), 0) OR m.balance < 0
	`)
	if err != nil {
		t.Fatalf("check ledger: %v", err)
	}
	if len(ledgerDrift) > 0 {
		t.Errorf("member balances disagree with ledger:\n%s", spew.Sdump(ledgerDrift))
	}
}
