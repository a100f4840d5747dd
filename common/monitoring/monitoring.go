/*
 * === This file is part of Polaris ===
 *
 * Copyright 2026 the Polaris authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package monitoring serves the prometheus metrics of a polaris process
// over HTTP.
package monitoring

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// atomic holder for the HTTP server instance
	server atomic.Pointer[http.Server]

	runningMu sync.Mutex
	// closed once a server is listening, replaced by Stop
	running = make(chan struct{})

	log = logger.New(logrus.StandardLogger(), "monitoring")
)

// Run registers the polaris collectors and serves them on endpointName at
// address until Stop is called. Only the first concurrent Run serves.
func Run(address, endpointName string) error {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle(endpointName, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	localServer := &http.Server{Addr: address, Handler: mux}
	if !server.CompareAndSwap(nil, localServer) {
		return nil
	}

	runningMu.Lock()
	close(running)
	runningMu.Unlock()

	log.WithField("address", address).
		WithField("endpoint", endpointName).
		Info("serving metrics")
	err := localServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	server.CompareAndSwap(localServer, nil)
	return err
}

func IsRunning() bool {
	return server.Load() != nil
}

func Stop() {
	localServer := server.Swap(nil)
	if localServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := localServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("metrics server shutdown")
	}

	runningMu.Lock()
	running = make(chan struct{})
	runningMu.Unlock()
}

// WaitUntilRunning waits until a server is serving or timeout passes.
// It returns false on timeout.
func WaitUntilRunning(timeout time.Duration) bool {
	runningMu.Lock()
	ch := running
	runningMu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
