// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package health

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type probeResponse struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// MountChi mounts the probe endpoints on a chi router:
// /livez, /readyz, and /startupz.
func MountChi(r chi.Router, c *Checker) {
	r.Get("/livez", LiveHandler(c))
	r.Get("/readyz", ReadyHandler(c))
	r.Get("/startupz", StartupHandler(c))
}

// LiveHandler serves the liveness probe.
func LiveHandler(c *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := c.Live(r.Context())
		writeProbe(w, probeResponse{Status: result.Status})
	}
}

// ReadyHandler serves the readiness probe with per-check detail.
func ReadyHandler(c *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.Ready(r.Context())
		writeProbe(w, probeResponse{
			Status: AggregateStatus(results),
			Checks: results,
		})
	}
}

// StartupHandler serves the startup probe.
func StartupHandler(c *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := c.Startup(r.Context())
		writeProbe(w, probeResponse{Status: result.Status})
	}
}

func writeProbe(w http.ResponseWriter, resp probeResponse) {
	status := http.StatusOK
	if resp.Status != StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
