package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pipps-app/ProductFormulator-sub000/internal/handlers"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	applog.Debug(context.Background(), "registering http routes")
	r.Get("/healthz", handlers.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", handlers.Signup)
		r.Post("/auth/login", handlers.Login)
		r.Post("/auth/logout", handlers.Logout)

		r.Group(func(r chi.Router) {
			r.Use(handlers.RequireAuthentication)
			r.Get("/auth/me", handlers.Me)

			r.Route("/materials", func(r chi.Router) {
				r.Get("/", handlers.ListMaterials)
				r.Post("/", handlers.CreateMaterial)
				r.Get("/{id}", handlers.GetMaterial)
				r.Put("/{id}", handlers.UpdateMaterial)
				r.Patch("/{id}", handlers.UpdateMaterial)
				r.Delete("/{id}", handlers.DeleteMaterial)
			})
			r.Route("/vendors", func(r chi.Router) {
				r.Get("/", handlers.ListVendors)
				r.Post("/", handlers.CreateVendor)
				r.Put("/{id}", handlers.UpdateVendor)
				r.Delete("/{id}", handlers.DeleteVendor)
			})
			r.Route("/categories", func(r chi.Router) {
				r.Get("/", handlers.ListCategories)
				r.Post("/", handlers.CreateCategory)
				r.Put("/{id}", handlers.UpdateCategory)
				r.Delete("/{id}", handlers.DeleteCategory)
			})
			r.Route("/formulations", func(r chi.Router) {
				r.Get("/", handlers.ListFormulations)
				r.Post("/", handlers.CreateFormulation)
				r.Get("/{id}", handlers.GetFormulation)
				r.Put("/{id}", handlers.UpdateFormulation)
				r.Delete("/{id}", handlers.DeleteFormulation)
				r.Post("/{id}/archive", handlers.ArchiveFormulation)
				r.Post("/{id}/restore", handlers.RestoreFormulation)
				r.Post("/{id}/recalculate", handlers.RecalculateFormulation)
				r.Get("/{id}/batch", handlers.FormulationBatch)
			})

			r.Get("/audit/recent", handlers.RecentAudit)
			r.Get("/reports/cost-changes", handlers.CostChanges)
			r.Get("/reports/formulations", handlers.FormulationsSummary)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
	})
	return r
}

// requestLogger scopes the request id into the log context and logs each
// completed request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := applog.WithAttrs(r.Context(), "request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		applog.Debug(ctx, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
