package http

import (
	"net/http"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/heartbeat"
)

// healthHandler serves /healthz from the heartbeat monitor. An
// unhealthy process answers 503 with the failed probe names so
// operators can see what closed the corridor.
func healthHandler(monitor *heartbeat.Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := monitor.Status()

		code := http.StatusOK
		state := "healthy"
		if !status.Healthy {
			code = http.StatusServiceUnavailable
			state = "fail_closed"
		}

		writeJSON(w, code, map[string]interface{}{
			"status":   state,
			"failures": status.Failures,
			"last_run": status.LastRun.UTC().Format(time.RFC3339),
		})
	})
}
