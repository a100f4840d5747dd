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

// Package uid generates the identifiers of recipe runs, player runs and
// emitted events. IDs are time-ordered and seeded per machine.
package uid

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/osamingo/indigo"
	"github.com/pborman/uuid"
	"github.com/rs/xid"
)

type ID string

var (
	genOnce sync.Once
	uidGen  *indigo.Generator
)

// machineID derives a uint16 from the standard machine-id (the first two
// bytes of the UUID node block), defaulting to 42 when unavailable.
func machineID() uint16 {
	var id uint16 = 42
	raw, err := machineid.ID()
	if err != nil {
		return id
	}
	parsed := uuid.Parse(raw)
	if parsed == nil {
		return id
	}
	node := parsed.NodeID()
	if len(node) < 2 {
		return id
	}
	return binary.BigEndian.Uint16(node[0:2])
}

func generator() *indigo.Generator {
	genOnce.Do(func() {
		mid := machineID()
		uidGen = indigo.New(
			nil,
			indigo.StartTime(time.Unix(1257894000, 0)),
			indigo.MachineID(func() (uint16, error) { return mid, nil }),
		)
	})
	return uidGen
}

func (u ID) String() string {
	return string(u)
}

func (u ID) IsNil() bool {
	return len(u) == 0
}

func (u ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func NilID() ID {
	return ""
}

// New returns a fresh ID. If the sonyflake-style generator is exhausted or
// misconfigured we fall back to an XID.
func New() ID {
	id, err := generator().NextID()
	if err != nil {
		return ID(xid.New().String())
	}
	return ID(id)
}

// FromString accepts IDs produced by New, including the XID fallback.
func FromString(s string) (ID, error) {
	if _, err := generator().Decompose(s); err == nil {
		return ID(s), nil
	}
	if _, err := xid.FromString(s); err == nil {
		return ID(s), nil
	}
	_, err := generator().Decompose(s)
	return "", err
}
