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
	"fmt"
	"sync"
	"time"

	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
)

// RemoteService mirrors a service of a PEA. Its state and command-enable
// snapshot follow the StateCur and CommandEn nodes; commands are written to
// CommandOp as the bit of the command.
type RemoteService struct {
	pea  *PEA
	name string

	mu            sync.Mutex
	state         service.State
	commandEnable service.CommandEnable
	subs          event.Subscriptions

	observers event.Observers[service.StateChange]
}

func newRemoteService(p *PEA, name string) *RemoteService {
	return &RemoteService{
		pea:           p,
		name:          name,
		commandEnable: service.CommandEnableFor(service.IDLE),
	}
}

func (s *RemoteService) Name() string {
	return s.name
}

func (s *RemoteService) State() service.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RemoteService) CommandEnable() service.CommandEnable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandEnable
}

func (s *RemoteService) SubscribeState(fn func(service.StateChange)) *event.Subscription {
	return s.observers.Subscribe(fn)
}

// prime reads the current state and command enable and subscribes to both
// nodes the first time the unit connects.
func (s *RemoteService) prime(ctx context.Context) error {
	stateNode := ServiceNode(s.name, NodeStateCur)
	enableNode := ServiceNode(s.name, NodeCommandEn)

	s.mu.Lock()
	subscribed := len(s.subs) > 0
	s.mu.Unlock()
	if !subscribed {
		stateSub, err := s.pea.watch(stateNode, s.onState)
		if err != nil {
			return err
		}
		enableSub, err := s.pea.watch(enableNode, s.onCommandEnable)
		if err != nil {
			stateSub.Unsubscribe()
			return err
		}
		s.mu.Lock()
		s.subs = event.Subscriptions{stateSub, enableSub}
		s.mu.Unlock()
	}

	if v, err := s.pea.transport.Read(ctx, stateNode); err == nil && v != nil {
		s.onState(v)
	}
	if v, err := s.pea.transport.Read(ctx, enableNode); err == nil && v != nil {
		s.onCommandEnable(v)
	}
	return nil
}

func (s *RemoteService) onState(v interface{}) {
	st, err := decodeState(v)
	if err != nil {
		log.WithUnit(s.pea.name).WithField("service", s.name).WithError(err).Warn("bad state value")
		return
	}
	s.mu.Lock()
	s.state = st
	change := service.StateChange{
		Service:       s.name,
		State:         st,
		CommandEnable: s.commandEnable,
		Timestamp:     time.Now(),
	}
	s.mu.Unlock()
	s.observers.Notify(change)
}

func (s *RemoteService) onCommandEnable(v interface{}) {
	bits, ok := toUint32(v)
	if !ok {
		return
	}
	s.mu.Lock()
	s.commandEnable = service.CommandEnableFromBits(bits)
	s.mu.Unlock()
}

// Execute writes the command after checking the last known command-enable
// snapshot. The unit itself remains the authority.
func (s *RemoteService) Execute(ctx context.Context, cmd service.Command) error {
	if !s.pea.Connected() {
		return fmt.Errorf("service %s: %w", s.name, ErrNotConnected)
	}
	s.mu.Lock()
	state, enabled := s.state, s.commandEnable.Enabled(cmd)
	s.mu.Unlock()
	if !enabled {
		return &service.CommandRejectedError{Service: s.name, Command: cmd, State: state}
	}
	return s.pea.write(ctx, ServiceNode(s.name, NodeCommandOp), service.CommandEnableOf(cmd).Bits())
}

func (s *RemoteService) SetProcedure(ctx context.Context, procedure string, params map[string]interface{}) error {
	if procedure != "" {
		if err := s.pea.write(ctx, ServiceNode(s.name, NodeProcedureReq), procedure); err != nil {
			return fmt.Errorf("service %s: %w", s.name, err)
		}
	}
	for name, value := range params {
		if err := s.pea.write(ctx, ServiceNode(s.name, name), value); err != nil {
			return fmt.Errorf("service %s: parameter %s: %w", s.name, name, err)
		}
	}
	return nil
}

func decodeState(v interface{}) (service.State, error) {
	switch t := v.(type) {
	case service.State:
		return t, nil
	case string:
		return service.ParseState(t)
	}
	if n, ok := toUint32(v); ok && int(n) < len(service.States) {
		return service.State(n), nil
	}
	return service.IDLE, fmt.Errorf("cannot decode state from %v", v)
}

func toUint32(v interface{}) (uint32, bool) {
	switch t := v.(type) {
	case uint32:
		return t, true
	case int:
		return uint32(t), t >= 0
	case int32:
		return uint32(t), t >= 0
	case int64:
		return uint32(t), t >= 0
	case uint:
		return uint32(t), true
	case uint64:
		return uint32(t), true
	case float64:
		return uint32(t), t >= 0
	}
	return 0, false
}
