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

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/p2o-lab/polaris-backend-sub002/core/player"
	"github.com/p2o-lab/polaris-backend-sub002/core/recipe"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
)

var (
	blue   = color.New(color.FgHiBlue).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	grey   = color.New(color.FgWhite).SprintFunc()
)

func colorState(st service.State) string {
	s := st.String()
	switch st {
	case service.IDLE, service.COMPLETED:
		return blue(s)
	case service.EXECUTE:
		return green(s)
	case service.PAUSED, service.HELD, service.STOPPED:
		return yellow(s)
	case service.ABORTED:
		return red(s)
	default:
		return grey(s)
	}
}

func colorStatus(st recipe.Status) string {
	s := string(st)
	switch st {
	case recipe.Completed:
		return blue(s)
	case recipe.Running:
		return green(s)
	case recipe.Paused:
		return yellow(s)
	default:
		return red(s)
	}
}

func newTable(o io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(o)
	table.SetHeader(header)
	table.SetBorder(false)
	fg := tablewriter.Colors{tablewriter.Bold, tablewriter.FgYellowColor}
	colors := make([]tablewriter.Colors, len(header))
	for i := range colors {
		colors[i] = fg
	}
	table.SetHeaderColor(colors...)
	return table
}

func printRuns(o io.Writer, runs []player.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(o, "no recipe was played")
		return
	}
	table := newTable(o, "run", "#", "recipe", "started", "duration", "status", "error")
	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if !r.Ended.IsZero() {
			duration = r.Ended.Sub(r.Started).Round(time.Millisecond).String()
		}
		data = append(data, []string{
			r.ID.String(),
			fmt.Sprint(r.Index),
			r.RecipeName,
			r.Started.Format(time.RFC3339),
			duration,
			colorStatus(r.Status),
			r.Err,
		})
	}
	table.AppendBulk(data)
	table.Render()
}

func printServices(o io.Writer, units unit.Set) {
	table := newTable(o, "unit", "service", "state", "connected")
	data := make([][]string, 0)
	for _, u := range units {
		connected := red("no")
		if u.Connected() {
			connected = green("yes")
		}
		for _, svc := range u.Services() {
			data = append(data, []string{u.Name(), svc.Name(), colorState(svc.State()), connected})
		}
	}
	if len(data) == 0 {
		fmt.Fprintln(o, "no services")
		return
	}
	table.AppendBulk(data)
	table.Render()
}
