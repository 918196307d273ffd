package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/db/dbtest"
)

// withHandlerGlobals restores every package-level dependency after the test.
func withHandlerGlobals(t *testing.T) {
	t.Helper()
	origSM, origDB := sessionManager, database
	origRepo, origBus, origEngine, origGuard, origPlans, origNow := repo, bus, engine, guard, plans, nowFunc
	t.Cleanup(func() {
		sessionManager, database = origSM, origDB
		repo, bus, engine, guard, plans, nowFunc = origRepo, origBus, origEngine, origGuard, origPlans, origNow
	})
}

func withTestSessionManager(t *testing.T) *scs.SessionManager {
	t.Helper()
	withHandlerGlobals(t)
	sm := scs.New()
	sessionManager = sm
	return sm
}

// withTestDatabase configures the handlers against a fresh in-memory database.
func withTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	withHandlerGlobals(t)
	db := dbtest.Open(t)
	Configure(sessionManager, db)
	return db
}

func sessionRequest(t *testing.T, sm *scs.SessionManager, method, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	ctx, err := sm.Load(req.Context(), "")
	if err != nil {
		t.Fatalf("failed to load session context: %v", err)
	}
	return req.WithContext(ctx)
}

func testRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", Health)
	r.Post("/api/auth/signup", Signup)
	r.Post("/api/auth/login", Login)
	r.Post("/api/auth/logout", Logout)
	r.Group(func(r chi.Router) {
		r.Use(RequireAuthentication)
		r.Get("/api/auth/me", Me)

		r.Get("/api/materials", ListMaterials)
		r.Post("/api/materials", CreateMaterial)
		r.Get("/api/materials/{id}", GetMaterial)
		r.Put("/api/materials/{id}", UpdateMaterial)
		r.Delete("/api/materials/{id}", DeleteMaterial)

		r.Get("/api/vendors", ListVendors)
		r.Post("/api/vendors", CreateVendor)
		r.Put("/api/vendors/{id}", UpdateVendor)
		r.Delete("/api/vendors/{id}", DeleteVendor)
		r.Get("/api/categories", ListCategories)
		r.Post("/api/categories", CreateCategory)

		r.Get("/api/formulations", ListFormulations)
		r.Post("/api/formulations", CreateFormulation)
		r.Get("/api/formulations/{id}", GetFormulation)
		r.Put("/api/formulations/{id}", UpdateFormulation)
		r.Delete("/api/formulations/{id}", DeleteFormulation)
		r.Post("/api/formulations/{id}/archive", ArchiveFormulation)
		r.Post("/api/formulations/{id}/restore", RestoreFormulation)
		r.Post("/api/formulations/{id}/recalculate", RecalculateFormulation)
		r.Get("/api/formulations/{id}/batch", FormulationBatch)

		r.Get("/api/audit/recent", RecentAudit)
		r.Get("/api/reports/cost-changes", CostChanges)
		r.Get("/api/reports/formulations", FormulationsSummary)
	})
	return sessionManager.LoadAndSave(r)
}

// apiClient replays the session cookie between requests.
type apiClient struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	withTestSessionManager(t)
	withTestDatabase(t)
	return &apiClient{t: t, handler: testRouter()}
}

// signup registers and signs in a user on plan.
func (c *apiClient) signup(email, plan string) userResponse {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    email,
		"password": "password123",
		"plan":     plan,
	})
	if rec.Code != http.StatusCreated {
		c.t.Fatalf("signup status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	return decode[userResponse](c.t, rec)
}

func (c *apiClient) do(method, target string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			c.t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if cookies := rec.Result().Cookies(); len(cookies) > 0 {
		c.cookies = cookies
	}
	return rec
}

// expect fails the test unless rec has the wanted status.
func expect(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
