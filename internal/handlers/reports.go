package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/reports"
)

const (
	defaultRecentLimit     = 50
	defaultCostChangeDays  = 30
	xlsxContentType        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	costChangesXLSXFileFmt = "cost-changes-%s.xlsx"
)

// RecentAudit returns the caller's newest audit entries, ?limit= at most.
func RecentAudit(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)

	limit := defaultRecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeRejected(w, "limit must be a positive integer", map[string]string{"limit": "must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := audit.Recent(r.Context(), database, userID, limit)
	if err != nil {
		writeStoreError(w, r, err, "audit log")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// CostChanges reports recorded cost movements. The window is ?since=
// (RFC 3339 or YYYY-MM-DD) or the last ?days= days. ?format=xlsx returns a
// spreadsheet instead of JSON.
func CostChanges(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	ctx := r.Context()

	since, ok := costChangeWindow(w, r)
	if !ok {
		return
	}
	rows, err := reports.CostChangeReport(ctx, database, userID, since)
	if err != nil {
		writeStoreError(w, r, err, "cost change report")
		return
	}

	if !strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		writeJSON(w, http.StatusOK, rows)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+costChangesFilename(nowFunc())+`"`)
	if err := reports.WriteCostChangesXLSX(w, rows); err != nil {
		applog.Error(ctx, "failed to write cost change workbook", "error", err)
	}
}

func costChangeWindow(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		for _, layout := range []string{time.RFC3339, time.DateOnly} {
			if since, err := time.Parse(layout, raw); err == nil {
				return since.UTC(), true
			}
		}
		writeRejected(w, "since must be a date", map[string]string{"since": "must be RFC 3339 or YYYY-MM-DD"})
		return time.Time{}, false
	}

	days := defaultCostChangeDays
	if raw := strings.TrimSpace(query.Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeRejected(w, "days must be a positive integer", map[string]string{"days": "must be a positive integer"})
			return time.Time{}, false
		}
		days = parsed
	}
	return nowFunc().UTC().AddDate(0, 0, -days), true
}

func costChangesFilename(now time.Time) string {
	return fmt.Sprintf(costChangesXLSXFileFmt, now.UTC().Format("20060102"))
}

// FormulationsSummary returns portfolio totals for the caller's formulations.
func FormulationsSummary(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)

	summary, err := reports.FormulationSummary(r.Context(), database, userID)
	if err != nil {
		writeStoreError(w, r, err, "formulation summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
