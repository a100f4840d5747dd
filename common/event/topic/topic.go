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

package topic

type Topic string

const (
	Separator       = "." // used to separate topic segments
	Root      Topic = "polaris"
	Event     Topic = Root + Separator + "event"

	Service   Topic = Event + Separator + "service"
	Unit      Topic = Event + Separator + "unit"
	Operation Topic = Event + Separator + "operation"
	Recipe    Topic = Event + Separator + "recipe"
	Step      Topic = Recipe + Separator + "step"
	Player    Topic = Event + Separator + "player"
)

// ForEventName maps an event name to the topic it is published on.
func ForEventName(name string) Topic {
	switch name {
	case "SERVICE_STATE":
		return Service
	case "UNIT_CONNECTION":
		return Unit
	case "OPERATION_STATE":
		return Operation
	case "RECIPE_STATUS":
		return Recipe
	case "STEP_COMPLETED":
		return Step
	case "PLAYER_STATUS":
		return Player
	}
	return Event
}
