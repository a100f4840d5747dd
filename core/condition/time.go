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

package condition

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// Time is a one-shot timer condition.
type Time struct {
	base
	duration time.Duration
	clock    clock.Clock

	timer *clock.Timer
}

func NewTime(d time.Duration, c clock.Clock) (*Time, error) {
	if d <= 0 {
		return nil, fmt.Errorf("time condition: duration must be positive, got %s", d)
	}
	if c == nil {
		c = clock.New()
	}
	return &Time{base: newBase(), duration: d, clock: c}, nil
}

func (t *Time) Listen(context.Context) error {
	if !t.begin() {
		return nil
	}
	t.update(false)

	timer := t.clock.AfterFunc(t.duration, func() {
		t.update(true)
	})
	t.mu.Lock()
	t.timer = timer
	t.mu.Unlock()
	return nil
}

func (t *Time) Clear() {
	t.mu.Lock()
	timer := t.timer
	t.timer = nil
	t.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	t.clear()
}

func (t *Time) Duration() time.Duration {
	return t.duration
}

func (t *Time) Units() []string {
	return nil
}

func (t *Time) String() string {
	return fmt.Sprintf("time(%s)", t.duration)
}
