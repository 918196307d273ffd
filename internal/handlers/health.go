package handlers

import (
	"net/http"
	"time"

	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
)

type healthResponse struct {
	Status   string    `json:"status"`
	Database string    `json:"database"`
	Time     time.Time `json:"time"`
}

// Health reports whether the server and its database are reachable.
func Health(w http.ResponseWriter, r *http.Request) {
	applog.Debug(r.Context(), "health check requested", "method", r.Method)
	resp := healthResponse{
		Status:   "ok",
		Database: "unconfigured",
		Time:     time.Now().UTC(),
	}

	status := http.StatusOK
	if database != nil {
		resp.Database = "ok"
		sqlDB, err := database.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			applog.Error(r.Context(), "database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
	applog.Debug(r.Context(), "health check responded", "status", resp.Status)
}
