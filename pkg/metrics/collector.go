// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package metrics

import (
	"context"
	"runtime"
	"time"
)

// ResourceCollector periodically refreshes resource gauges: goroutine
// count, heap usage, and server uptime.
type ResourceCollector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	started  time.Time
}

// NewResourceCollector creates a collector that updates gauges at the given
// interval. Recommended interval: 10-60 seconds.
func NewResourceCollector(ctx context.Context, interval time.Duration) *ResourceCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &ResourceCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
	}
}

// Start blocks and collects until Stop is called or the parent context is
// cancelled. Run it in a goroutine.
func (rc *ResourceCollector) Start() {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()

	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

// Stop halts the collector.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	Goroutines.Set(float64(runtime.NumGoroutine()))
	MemoryAllocBytes.Set(float64(mem.Alloc))
	ServerUptime.Set(time.Since(rc.started).Seconds())
}
