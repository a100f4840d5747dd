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

package unit

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// ValueCache holds the most recently observed value of every node of a
// remote unit. Entries expire after the staleness threshold; a read of an
// expired or missing entry goes to the transport. Only transport
// notifications, fed through Observe, store values.
type ValueCache struct {
	transport Transport
	values    *cache.Cache
}

func NewValueCache(t Transport, staleness time.Duration) *ValueCache {
	cleanup := 10 * staleness
	if staleness <= 0 {
		staleness = cache.NoExpiration
		cleanup = 0
	}
	return &ValueCache{
		transport: t,
		values:    cache.New(staleness, cleanup),
	}
}

func (c *ValueCache) Get(ctx context.Context, node string) (interface{}, error) {
	if v, found := c.values.Get(node); found {
		return v, nil
	}
	return c.transport.Read(ctx, node)
}

func (c *ValueCache) Observe(node string, value interface{}) {
	c.values.SetDefault(node, value)
}

func (c *ValueCache) Flush() {
	c.values.Flush()
}
