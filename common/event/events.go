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

// Package event defines the typed notifications emitted by services,
// conditions, operations, recipes and the player, the observer registry
// they travel through, and the writers that publish them.
package event

import (
	"time"
)

type Event interface {
	GetName() string
	GetTimestamp() time.Time
}

type eventBase struct {
	Timestamp   time.Time `json:"timestamp"`
	MessageType string    `json:"_messageType"`
}

func newEventBase(messageType string, ts time.Time) eventBase {
	if ts.IsZero() {
		ts = time.Now()
	}
	return eventBase{Timestamp: ts, MessageType: messageType}
}

func (e *eventBase) GetTimestamp() time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.Timestamp
}

type ServiceStateChanged struct {
	eventBase
	Unit    string `json:"unit,omitempty"`
	Service string `json:"service"`
	State   string `json:"state"`
	Command string `json:"command,omitempty"`
}

func (e *ServiceStateChanged) GetName() string {
	return "SERVICE_STATE"
}

func NewServiceStateChanged(unitName, service, state, command string, ts time.Time) *ServiceStateChanged {
	return &ServiceStateChanged{
		eventBase: newEventBase("ServiceStateChanged", ts),
		Unit:      unitName,
		Service:   service,
		State:     state,
		Command:   command,
	}
}

type OperationStateChanged struct {
	eventBase
	Unit     string `json:"unit"`
	Service  string `json:"service"`
	Command  string `json:"command"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func (e *OperationStateChanged) GetName() string {
	return "OPERATION_STATE"
}

func NewOperationStateChanged(unitName, service, command, state string, attempts int, err error) *OperationStateChanged {
	e := &OperationStateChanged{
		eventBase: newEventBase("OperationStateChanged", time.Time{}),
		Unit:      unitName,
		Service:   service,
		Command:   command,
		State:     state,
		Attempts:  attempts,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

type StepCompleted struct {
	eventBase
	RecipeId string `json:"recipeId"`
	Step     string `json:"step"`
	NextStep string `json:"nextStep"`
	Forced   bool   `json:"forced,omitempty"`
}

func (e *StepCompleted) GetName() string {
	return "STEP_COMPLETED"
}

func NewStepCompleted(recipeId, step, nextStep string, forced bool) *StepCompleted {
	return &StepCompleted{
		eventBase: newEventBase("StepCompleted", time.Time{}),
		RecipeId:  recipeId,
		Step:      step,
		NextStep:  nextStep,
		Forced:    forced,
	}
}

type RecipeStatusChanged struct {
	eventBase
	RecipeId    string `json:"recipeId"`
	RecipeName  string `json:"recipeName"`
	Status      string `json:"status"`
	CurrentStep string `json:"currentStep,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (e *RecipeStatusChanged) GetName() string {
	return "RECIPE_STATUS"
}

func NewRecipeStatusChanged(recipeId, recipeName, status, currentStep string, err error) *RecipeStatusChanged {
	e := &RecipeStatusChanged{
		eventBase:   newEventBase("RecipeStatusChanged", time.Time{}),
		RecipeId:    recipeId,
		RecipeName:  recipeName,
		Status:      status,
		CurrentStep: currentStep,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

type PlayerStatusChanged struct {
	eventBase
	Status       string `json:"status"`
	CurrentIndex int    `json:"currentIndex"`
	RunId        string `json:"runId,omitempty"`
}

func (e *PlayerStatusChanged) GetName() string {
	return "PLAYER_STATUS"
}

func NewPlayerStatusChanged(status string, currentIndex int, runId string) *PlayerStatusChanged {
	return &PlayerStatusChanged{
		eventBase:    newEventBase("PlayerStatusChanged", time.Time{}),
		Status:       status,
		CurrentIndex: currentIndex,
		RunId:        runId,
	}
}

type UnitConnectionChanged struct {
	eventBase
	Unit      string `json:"unit"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (e *UnitConnectionChanged) GetName() string {
	return "UNIT_CONNECTION"
}

func NewUnitConnectionChanged(unitName string, connected bool, err error) *UnitConnectionChanged {
	e := &UnitConnectionChanged{
		eventBase: newEventBase("UnitConnectionChanged", time.Time{}),
		Unit:      unitName,
		Connected: connected,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
