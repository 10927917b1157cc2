// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountChi mounts ceremony routes on a chi router.
//
// Example:
//
//	handler := ceremonyhttp.NewHandler(engine)
//	r.Route("/api/v1/passkey", func(r chi.Router) {
//	    ceremonyhttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	r.Post("/registration/options", h.RegistrationOptions)
	r.Post("/registration/verify", h.RegistrationVerify)
	r.Post("/authentication/options", h.AuthenticationOptions)
	r.Post("/authentication/verify", h.AuthenticationVerify)
	r.Get("/credentials", h.ListCredentials)
	r.Delete("/credentials/{id}", h.RemoveCredential)
}

// MountStdlib mounts ceremony routes on a stdlib http.ServeMux.
// The prefix should not include a trailing slash. Method checking is done
// inside the handlers.
//
// Example:
//
//	handler := ceremonyhttp.NewHandler(engine)
//	ceremonyhttp.MountStdlib(mux, "/api/v1/passkey", handler)
func MountStdlib(mux *http.ServeMux, prefix string, h *Handler) {
	mux.HandleFunc(prefix+"/registration/options", h.RegistrationOptions)
	mux.HandleFunc(prefix+"/registration/verify", h.RegistrationVerify)
	mux.HandleFunc(prefix+"/authentication/options", h.AuthenticationOptions)
	mux.HandleFunc(prefix+"/authentication/verify", h.AuthenticationVerify)
	mux.HandleFunc(prefix+"/credentials", h.ListCredentials)
	mux.HandleFunc(prefix+"/credentials/", h.RemoveCredential)
}

// RouteEntry represents a single route with its method, path, and handler.
type RouteEntry struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes returns a slice of route entries for manual mounting.
// Useful for frameworks not directly supported.
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Method: "POST", Path: "/registration/options", Handler: h.RegistrationOptions},
		{Method: "POST", Path: "/registration/verify", Handler: h.RegistrationVerify},
		{Method: "POST", Path: "/authentication/options", Handler: h.AuthenticationOptions},
		{Method: "POST", Path: "/authentication/verify", Handler: h.AuthenticationVerify},
		{Method: "GET", Path: "/credentials", Handler: h.ListCredentials},
		{Method: "DELETE", Path: "/credentials/{id}", Handler: h.RemoveCredential},
	}
}
