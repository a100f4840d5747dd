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

// Package metrics holds the prometheus collectors of the orchestration
// core. Collectors are always updated; they are exported only once
// Register has been called.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "polaris"
)

var (
	OperationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "operation",
		Name:      "attempts_total",
		Help:      "The number of command dispatch attempts, by command.",
	}, []string{"command"})
	OperationOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "operation",
		Name:      "outcomes_total",
		Help:      "The number of finished operations, by final state.",
	}, []string{"state"})
	OperationLatency = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: Namespace,
		Subsystem: "operation",
		Name:      "latency_seconds",
		Help:      "Time from the first attempt to the final state of an operation.",
	}, []string{"state"})
	StepsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "recipe",
		Name:      "steps_completed_total",
		Help:      "The number of completed steps, by whether the transition was forced.",
	}, []string{"forced"})
	StepDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: Namespace,
		Subsystem: "recipe",
		Name:      "step_duration_seconds",
		Help:      "Time spent in a step until one of its transitions fired.",
	})
	RecipeRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "recipe",
		Name:      "runs_total",
		Help:      "The number of recipe runs, by final status.",
	}, []string{"status"})
	PetrinetTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "petrinet",
		Name:      "transitions_fired_total",
		Help:      "The number of petrinet transitions fired.",
	})
	ServiceStateChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "service",
		Name:      "state_changes_total",
		Help:      "The number of service state changes, by entered state.",
	}, []string{"state"})
	EventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "event",
		Name:      "written_total",
		Help:      "The number of events handed to writers, by event name.",
	}, []string{"name"})
)

var registerMetrics sync.Once

func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(OperationAttempts)
		prometheus.MustRegister(OperationOutcomes)
		prometheus.MustRegister(OperationLatency)
		prometheus.MustRegister(StepsCompleted)
		prometheus.MustRegister(StepDuration)
		prometheus.MustRegister(RecipeRuns)
		prometheus.MustRegister(PetrinetTransitions)
		prometheus.MustRegister(ServiceStateChanges)
		prometheus.MustRegister(EventsWritten)
	})
}
