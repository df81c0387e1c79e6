package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger is a dependency checked by Health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthCheck struct {
	Name   string
	Pinger Pinger
}

type healthResponse struct {
	Status string `json:"status"`
	Failed string `json:"failed,omitempty"`
}

// Health answers 200 while every check responds and 503 naming the first one
// that does not.
func Health(log *zap.Logger, checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.Pinger.Ping(ctx); err != nil {
				log.Warn("health check failed", zap.String("check", c.Name), zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Failed: c.Name})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
