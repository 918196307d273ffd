package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/events"
	"github.com/pipps-app/ProductFormulator-sub000/internal/lifecycle"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/policy"
	"github.com/pipps-app/ProductFormulator-sub000/internal/propagation"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

const (
	sessionAuthenticatedKey = "auth:authenticated"
	sessionUserIDKey        = "auth:user:id"
	sessionUserEmailKey     = "auth:user:email"
)

var (
	sessionManager *scs.SessionManager
	database       *gorm.DB

	repo    *store.Store
	bus     *events.Bus
	engine  *propagation.Engine
	guard   *lifecycle.Guard
	plans   *policy.Policy
	nowFunc = time.Now
)

type settings struct {
	historyAge time.Duration
	editGrace  time.Duration
	now        func() time.Time
}

// Option adjusts Configure.
type Option func(*settings)

// WithLifecycleThresholds sets the delete-or-archive heuristics.
func WithLifecycleThresholds(historyAge, editGrace time.Duration) Option {
	return func(s *settings) {
		s.historyAge = historyAge
		s.editGrace = editGrace
	}
}

// WithClock replaces the time source used by the handlers and the
// components they drive.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// Configure installs the shared dependencies used by the HTTP handlers and
// wires the propagation engine to material price changes.
func Configure(sm *scs.SessionManager, db *gorm.DB, opts ...Option) {
	cfg := settings{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	sessionManager = sm
	database = db
	nowFunc = cfg.now
	if db == nil {
		repo, bus, engine, guard, plans = nil, nil, nil, nil, nil
		return
	}

	repo = store.New(db)
	bus = events.NewBus()
	engine = propagation.New(repo, propagation.WithClock(cfg.now))
	engine.Subscribe(bus)
	guard = lifecycle.New(repo,
		lifecycle.WithClock(cfg.now),
		lifecycle.WithThresholds(cfg.historyAge, cfg.editGrace),
	)
	plans = policy.New(repo)
}

func createUser(r *http.Request, email, name, password, plan string) (*models.User, error) {
	if database == nil {
		return nil, gorm.ErrInvalidDB
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hashed),
		Plan:         models.NormalizePlan(plan),
	}

	if err := database.WithContext(r.Context()).Create(user).Error; err != nil {
		return nil, err
	}

	return user, nil
}

func findUserByEmail(r *http.Request, email string) (*models.User, error) {
	if database == nil {
		return nil, gorm.ErrInvalidDB
	}

	user := &models.User{}
	err := database.WithContext(r.Context()).Where("lower(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(user).Error
	if err != nil {
		return nil, err
	}
	return user, nil
}

func findUserByID(r *http.Request, id uint) (*models.User, error) {
	if database == nil {
		return nil, gorm.ErrInvalidDB
	}
	user := &models.User{}
	if err := database.WithContext(r.Context()).First(user, id).Error; err != nil {
		return nil, err
	}
	return user, nil
}

var errInvalidCredentials = errors.New("invalid email or password")

// authenticate verifies the provided credentials and populates the session if successful.
func authenticate(r *http.Request, email, password string) (*models.User, error) {
	user, err := findUserByEmail(r, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}

	if err := establishSession(r, user); err != nil {
		return nil, err
	}
	return user, nil
}

func establishSession(r *http.Request, user *models.User) error {
	if sessionManager == nil {
		return errors.New("session manager not configured")
	}
	if err := sessionManager.RenewToken(r.Context()); err != nil {
		return err
	}
	sessionManager.Put(r.Context(), sessionAuthenticatedKey, true)
	sessionManager.Put(r.Context(), sessionUserIDKey, int(user.ID))
	sessionManager.Put(r.Context(), sessionUserEmailKey, user.Email)
	return nil
}

// RequireAuthentication rejects requests without an authenticated session.
func RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ActiveSession(r) {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if repo == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		userID, _ := currentUserID(r)
		ctx := applog.WithAttrs(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logout destroys the current session.
func Logout(w http.ResponseWriter, r *http.Request) {
	if sessionManager != nil {
		if err := sessionManager.Destroy(r.Context()); err != nil {
			applog.Error(r.Context(), "failed to destroy session", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActiveSession returns true when the current request has an authenticated session.
func ActiveSession(r *http.Request) bool {
	if sessionManager == nil {
		return false
	}
	return sessionManager.GetBool(r.Context(), sessionAuthenticatedKey) && sessionManager.GetInt(r.Context(), sessionUserIDKey) > 0
}

func currentUserID(r *http.Request) (uint, bool) {
	if sessionManager == nil {
		return 0, false
	}
	id := sessionManager.GetInt(r.Context(), sessionUserIDKey)
	if id <= 0 {
		return 0, false
	}
	return uint(id), true
}

type userResponse struct {
	ID     uint          `json:"id"`
	Email  string        `json:"email"`
	Name   string        `json:"name"`
	Plan   string        `json:"plan"`
	Limits policy.Limits `json:"limits"`
}

func projectUser(user *models.User) userResponse {
	plan := models.NormalizePlan(user.Plan)
	return userResponse{
		ID:     user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Plan:   plan,
		Limits: policy.LimitsFor(plan),
	}
}

// Me returns the signed-in user.
func Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	user, err := findUserByID(r, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		writeStoreError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, projectUser(user))
}
