// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package http exposes ceremony operations over HTTP.
//
// The handlers pair each options endpoint with a verify endpoint; the two
// are linked by an opaque flow key carried in the X-Flow-Id header. A verify
// request consumes its flow key whether or not verification succeeds, so a
// failed attempt requires restarting from the options step.
//
// Routes can be mounted on chi, a stdlib ServeMux, or any framework via
// Handler.Routes.
package http
