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

// Package virtual holds services that run entirely in process.
package virtual

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "virtual")

const (
	ParamDuration   = "duration"
	ParamUpdateRate = "updateRate"
	RemainingTime   = "remainingTime"

	DefaultDuration   = 1000
	DefaultUpdateRate = 100
)

// Timer counts down duration milliseconds once started, publishing the
// remaining time every updateRate milliseconds, and completes itself when
// nothing remains.
type Timer struct {
	*service.Machine

	clock     clock.Clock
	remaining *unit.Variable

	mu       sync.Mutex
	ticker   *clock.Ticker
	deadline time.Time
	left     time.Duration
}

func NewTimer(name string, clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	t := &Timer{
		clock:     clk,
		remaining: unit.NewVariable(RemainingTime, 0.0),
	}
	t.Machine = service.NewMachine(name, service.Hooks{
		service.STARTING:  t.onStarting,
		service.EXECUTE:   t.onExecute,
		service.PAUSING:   t.onPausing,
		service.HOLDING:   t.onPausing,
		service.RESUMING:  t.onResuming,
		service.UNHOLDING: t.onResuming,
		service.STOPPING:  t.onHalt,
		service.ABORTING:  t.onHalt,
		service.RESETTING: t.onResetting,
	}, []service.Procedure{{
		Name:    "default",
		Default: true,
		Parameters: []service.Parameter{
			service.NewParameter(ParamDuration, float64(DefaultDuration)),
			service.NewParameter(ParamUpdateRate, float64(DefaultUpdateRate)),
		},
		ProcessValuesOut: []service.Parameter{
			service.NewParameter(RemainingTime, 0.0),
		},
	}})
	t.Machine.SetClock(clk)
	return t
}

// Variables exposes remainingTime (ms) to the hosting unit.
func (t *Timer) Variables() []*unit.Variable {
	return []*unit.Variable{t.remaining}
}

func (t *Timer) Remaining() float64 {
	v, _ := t.remaining.Get().(float64)
	return v
}

func (t *Timer) onStarting(_ context.Context, m *service.Machine) error {
	duration, err := t.millis(m, ParamDuration)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.left = duration
	t.mu.Unlock()
	t.publish(m, duration)
	return t.arm(m)
}

func (t *Timer) onResuming(_ context.Context, m *service.Machine) error {
	return t.arm(m)
}

// arm starts the ticker before EXECUTE is entered so that no tick is lost
// to the scheduling of the execute goroutine.
func (t *Timer) arm(m *service.Machine) error {
	rate, err := t.millis(m, ParamUpdateRate)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		t.ticker.Stop()
	}
	t.ticker = t.clock.Ticker(rate)
	t.deadline = t.clock.Now().Add(t.left)
	return nil
}

func (t *Timer) onExecute(ctx context.Context, m *service.Machine) error {
	t.mu.Lock()
	ticker := t.ticker
	deadline := t.deadline
	t.mu.Unlock()
	if ticker == nil {
		return fmt.Errorf("timer %s: not armed", t.Name())
	}

	for {
		left := deadline.Sub(t.clock.Now())
		if left < 0 {
			left = 0
		}
		t.mu.Lock()
		t.left = left
		t.mu.Unlock()
		t.publish(m, left)

		if left == 0 {
			t.disarm()
			log.WithField("service", t.Name()).Debug("timer elapsed")
			return m.SelfComplete(ctx)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// onPausing keeps the remaining time for a later resume.
func (t *Timer) onPausing(context.Context, *service.Machine) error {
	t.mu.Lock()
	if !t.deadline.IsZero() {
		if left := t.deadline.Sub(t.clock.Now()); left > 0 {
			t.left = left
		} else {
			t.left = 0
		}
	}
	t.mu.Unlock()
	t.disarm()
	return nil
}

func (t *Timer) onHalt(context.Context, *service.Machine) error {
	t.disarm()
	return nil
}

func (t *Timer) onResetting(context.Context, *service.Machine) error {
	t.disarm()
	t.mu.Lock()
	t.left = 0
	t.deadline = time.Time{}
	t.mu.Unlock()
	t.remaining.Set(0.0)
	return nil
}

func (t *Timer) publish(m *service.Machine, left time.Duration) {
	ms := float64(left.Milliseconds())
	m.SetProcessValue(RemainingTime, ms)
	t.remaining.Set(ms)
}

func (t *Timer) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}

func (t *Timer) millis(m *service.Machine, name string) (time.Duration, error) {
	raw, ok := m.ParameterValue(name)
	if !ok {
		return 0, fmt.Errorf("timer %s: parameter %s missing", t.Name(), name)
	}
	var ms float64
	switch v := raw.(type) {
	case float64:
		ms = v
	case float32:
		ms = float64(v)
	case int:
		ms = float64(v)
	case int64:
		ms = float64(v)
	case uint32:
		ms = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("timer %s: parameter %s: %w", t.Name(), name, err)
		}
		ms = parsed
	default:
		return 0, fmt.Errorf("timer %s: parameter %s has type %T", t.Name(), name, raw)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("timer %s: parameter %s must be positive", t.Name(), name)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
