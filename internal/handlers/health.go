package handlers

import (
	"context"
	"net/http"
	"time"

	applog "carbontrace/internal/log"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status   string    `json:"status"`
	Time     time.Time `json:"time"`
	Database string    `json:"database,omitempty"`
	Ledger   string    `json:"ledger,omitempty"`
}

// Health reports readiness. A configured database that does not answer a ping
// turns the response into a 503.
func Health(w http.ResponseWriter, r *http.Request) {
	applog.Debug(r.Context(), "health check requested", "method", r.Method)
	resp := healthResponse{
		Status: "ok",
		Time:   time.Now().UTC(),
	}
	status := http.StatusOK

	if database != nil {
		resp.Database = "ok"
		if err := pingDatabase(r.Context()); err != nil {
			applog.Error(r.Context(), "database health check failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if engine != nil {
		resp.Ledger = engine.Sender()
	}

	writeJSON(w, status, resp)
}

func pingDatabase(ctx context.Context) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
