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

package event

import (
	"sync"
)

// FifoBuffer is a threadsafe FIFO with builtin waiting for new data in
// PopMultiple. It is meant to be shared between goroutines; used
// synchronously it only wastes synchronization.
// The condition variable is held by pointer so the value returned by
// NewFifoBuffer may be copied before first use.
type FifoBuffer[T any] struct {
	cond *sync.Cond

	buffer []T
}

func NewFifoBuffer[T any]() FifoBuffer[T] {
	return FifoBuffer[T]{cond: sync.NewCond(&sync.Mutex{})}
}

func (b *FifoBuffer[T]) Push(value T) {
	b.cond.L.Lock()
	b.buffer = append(b.buffer, value)
	b.cond.Signal()
	b.cond.L.Unlock()
}

// PopMultiple blocks until the buffer holds at least one value, then
// returns up to numberToPop of them. It returns an empty slice when woken
// up by ReleaseGoroutines on an empty buffer.
func (b *FifoBuffer[T]) PopMultiple(numberToPop uint) (result []T) {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()

	for len(b.buffer) == 0 {
		b.cond.Wait()
		if len(b.buffer) == 0 {
			return
		}
	}

	n := int(numberToPop)
	if n > len(b.buffer) {
		n = len(b.buffer)
	}
	result = make([]T, n)
	copy(result, b.buffer[0:n])
	b.buffer = b.buffer[n:]
	return
}

// Drain returns everything buffered without waiting.
func (b *FifoBuffer[T]) Drain() (result []T) {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()
	result = b.buffer
	b.buffer = nil
	return
}

func (b *FifoBuffer[T]) Length() int {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()
	return len(b.buffer)
}

func (b *FifoBuffer[T]) ReleaseGoroutines() {
	b.cond.L.Lock()
	b.cond.Broadcast()
	b.cond.L.Unlock()
}
