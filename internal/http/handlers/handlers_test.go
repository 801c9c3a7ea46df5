// README: Handler tests for auth checks, role guards and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"poolride/internal/http/handlers"
	httpmiddleware "poolride/internal/http/middleware"
	"poolride/internal/infra"
	"poolride/internal/modules/driver"
	"poolride/internal/modules/pool"
	"poolride/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

// stubPools records the last command and returns canned results.
type stubPools struct {
	pool     *pool.PoolRide
	book     *pool.BookResult
	err      error
	lastBook pool.SearchCommand
	lastStop pool.StopCommand
}

func (s *stubPools) Search(_ context.Context, cmd pool.SearchCommand) (*pool.SearchResult, error) {
	return &pool.SearchResult{}, s.err
}

func (s *stubPools) Book(_ context.Context, cmd pool.SearchCommand) (*pool.BookResult, error) {
	s.lastBook = cmd
	return s.book, s.err
}

func (s *stubPools) Join(_ context.Context, cmd pool.JoinCommand) (*pool.PoolRide, error) {
	return s.pool, s.err
}

func (s *stubPools) Leave(_ context.Context, cmd pool.LeaveCommand) (*pool.PoolRide, error) {
	return s.pool, s.err
}

func (s *stubPools) Get(_ context.Context, id types.ID) (*pool.PoolRide, error) {
	return s.pool, s.err
}

func (s *stubPools) QuoteFares(_ context.Context, pickup, drop types.Point) (*pool.FareTable, error) {
	return &pool.FareTable{}, s.err
}

func (s *stubPools) AssignDriver(_ context.Context, cmd pool.AssignCommand) (*pool.PoolRide, error) {
	return s.pool, s.err
}

func (s *stubPools) StartPickup(_ context.Context, cmd pool.StartPickupCommand) (*pool.PoolRide, error) {
	return s.pool, s.err
}

func (s *stubPools) MarkPickedUp(_ context.Context, cmd pool.StopCommand) (*pool.PoolRide, error) {
	s.lastStop = cmd
	return s.pool, s.err
}

func (s *stubPools) MarkDroppedOff(_ context.Context, cmd pool.StopCommand) (*pool.PoolRide, error) {
	s.lastStop = cmd
	return s.pool, s.err
}

func (s *stubPools) Cancel(_ context.Context, cmd pool.CancelCommand) (*pool.PoolRide, error) {
	return s.pool, s.err
}

type stubDrivers struct {
	profile    *driver.Profile
	err        error
	lastReject driver.DecisionCommand
}

func (s *stubDrivers) Register(_ context.Context, cmd driver.RegisterCommand) (*driver.Profile, error) {
	return &driver.Profile{ID: cmd.DriverID, Name: cmd.Registration.Name}, s.err
}

func (s *stubDrivers) Get(_ context.Context, driverID, actorID types.ID) (*driver.Profile, error) {
	return s.profile, s.err
}

func (s *stubDrivers) Edit(_ context.Context, cmd driver.EditCommand) (*driver.Profile, error) {
	return s.profile, s.err
}

func (s *stubDrivers) Approve(_ context.Context, cmd driver.DecisionCommand) (*driver.Profile, error) {
	return s.profile, s.err
}

func (s *stubDrivers) Reject(_ context.Context, cmd driver.DecisionCommand) (*driver.Profile, error) {
	s.lastReject = cmd
	return s.profile, s.err
}

func (s *stubDrivers) SetAvailability(_ context.Context, cmd driver.AvailabilityCommand) (*driver.Profile, error) {
	return s.profile, s.err
}

func (s *stubDrivers) ListPending(_ context.Context, adminID types.ID, limit int) ([]driver.Profile, error) {
	return nil, s.err
}

// buildTestRouter wires a minimal Gin engine with the auth middleware and the handlers.
func buildTestRouter(verifier infra.TokenVerifier, pools *stubPools, drivers *stubDrivers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", httpmiddleware.Auth(verifier))

	ph := handlers.NewPoolHandler(pools)
	api.POST("/pools/book", ph.Book)
	api.GET("/pools/:id", ph.Get)

	dh := handlers.NewDriverHandler(drivers, pools)
	driverOnly := api.Group("", httpmiddleware.RequireRole(handlers.RoleDriver))
	driverOnly.POST("/drivers", dh.Register)
	driverOnly.POST("/pools/:id/participants/:studentId/pickup", dh.PickedUp)

	ah := handlers.NewAdminHandler(drivers, pools)
	adminOnly := api.Group("", httpmiddleware.RequireRole(handlers.RoleAdmin))
	adminOnly.POST("/admin/drivers/:id/reject", ah.Reject)
	return r
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestBook_UsesCallerAsStudent verifies that the student id comes from the token, not the body.
func TestBook_UsesCallerAsStudent(t *testing.T) {
	pools := &stubPools{book: &pool.BookResult{Pool: &pool.PoolRide{ID: "p1"}, Created: true, Attempts: 1}}
	r := buildTestRouter(makeVerifier("student-1", ""), pools, &stubDrivers{})
	w := doRequest(r, http.MethodPost, "/api/pools/book", map[string]any{
		"student_id": "someone-else",
		"pickup":     map[string]float64{"lat": 12.97, "lng": 77.59},
		"drop":       map[string]float64{"lat": 12.93, "lng": 77.62},
	}, "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if pools.lastBook.StudentID != "student-1" {
		t.Errorf("student id = %q, want student-1", pools.lastBook.StudentID)
	}
	if pools.lastBook.SeatsNeeded != 1 {
		t.Errorf("seats = %d, want default 1", pools.lastBook.SeatsNeeded)
	}
	if pools.lastBook.DepartureTime != nil {
		t.Errorf("departure = %v, want immediate", pools.lastBook.DepartureTime)
	}
}

func TestBook_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("%w: seats", types.ErrInvalidInput), http.StatusBadRequest},
		{"conflict", fmt.Errorf("%w: gave up", types.ErrConflict), http.StatusConflict},
		{"bad transition", fmt.Errorf("%w: pool closed", types.ErrInvalidTransition), http.StatusConflict},
		{"not found", types.ErrNotFound, http.StatusNotFound},
		{"forbidden", types.ErrForbidden, http.StatusForbidden},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := buildTestRouter(makeVerifier("student-1", ""), &stubPools{err: tc.err}, &stubDrivers{})
			w := doRequest(r, http.MethodPost, "/api/pools/book", map[string]any{}, "Bearer sometoken")
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

// TestGetPool_OnlyMembers verifies that outsiders cannot read a pool.
func TestGetPool_OnlyMembers(t *testing.T) {
	p := &pool.PoolRide{ID: "p1", Participants: []pool.Participant{{StudentID: "student-1"}}}
	cases := []struct {
		uid, role string
		want      int
	}{
		{"student-1", "", http.StatusOK},
		{"student-2", "", http.StatusForbidden},
		{"admin-1", "admin", http.StatusOK},
	}
	for _, tc := range cases {
		r := buildTestRouter(makeVerifier(tc.uid, tc.role), &stubPools{pool: p}, &stubDrivers{})
		w := doRequest(r, http.MethodGet, "/api/pools/p1", nil, "Bearer sometoken")
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.uid, tc.want, w.Code)
		}
	}
}

func TestGetPool_RejectsBadID(t *testing.T) {
	r := buildTestRouter(makeVerifier("student-1", ""), &stubPools{}, &stubDrivers{})
	w := doRequest(r, http.MethodGet, "/api/pools/bad%20id", nil, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// TestRegister_RequiresDriverRole checks that a student cannot create a driver profile.
func TestRegister_RequiresDriverRole(t *testing.T) {
	r := buildTestRouter(makeVerifier("student-1", ""), &stubPools{}, &stubDrivers{})
	w := doRequest(r, http.MethodPost, "/api/drivers", map[string]any{"name": "Ravi"}, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRegister_UsesCallerUID(t *testing.T) {
	r := buildTestRouter(makeVerifier("drv-1", "driver"), &stubPools{}, &stubDrivers{})
	w := doRequest(r, http.MethodPost, "/api/drivers", map[string]any{"name": "Ravi"}, "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var got driver.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "drv-1" || got.Name != "Ravi" {
		t.Errorf("profile = %+v", got)
	}
}

func TestPickedUp_PassesPathAndCaller(t *testing.T) {
	pools := &stubPools{pool: &pool.PoolRide{ID: "p1"}}
	r := buildTestRouter(makeVerifier("drv-1", "driver"), pools, &stubDrivers{})
	w := doRequest(r, http.MethodPost, "/api/pools/p1/participants/student-2/pickup", nil, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := pool.StopCommand{PoolID: "p1", DriverID: "drv-1", StudentID: "student-2"}
	if pools.lastStop != want {
		t.Errorf("stop = %+v, want %+v", pools.lastStop, want)
	}
}

// TestReject_RequiresReason checks the admin reject body validation.
func TestReject_RequiresReason(t *testing.T) {
	drivers := &stubDrivers{profile: &driver.Profile{ID: "drv-1"}}
	r := buildTestRouter(makeVerifier("admin-1", "admin"), &stubPools{}, drivers)

	w := doRequest(r, http.MethodPost, "/api/admin/drivers/drv-1/reject", map[string]any{}, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPost, "/api/admin/drivers/drv-1/reject", map[string]any{"reason": "blurry licence"}, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if drivers.lastReject.AdminID != "admin-1" || drivers.lastReject.Reason != "blurry licence" {
		t.Errorf("reject = %+v", drivers.lastReject)
	}
}

func TestReject_RequiresAdminRole(t *testing.T) {
	r := buildTestRouter(makeVerifier("drv-1", "driver"), &stubPools{}, &stubDrivers{})
	w := doRequest(r, http.MethodPost, "/api/admin/drivers/drv-1/reject", map[string]any{"reason": "x"}, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}
