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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/event/topic"
	"github.com/p2o-lab/polaris-backend-sub002/common/monitoring"
	"github.com/p2o-lab/polaris-backend-sub002/core/manager"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
	"github.com/p2o-lab/polaris-backend-sub002/core/player"
	"github.com/p2o-lab/polaris-backend-sub002/core/recipe"
	"github.com/p2o-lab/polaris-backend-sub002/polaris/simulation"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	pollInterval    = 200 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run [flags] RECIPE...",
	Short: "play recipes on simulated units",
	Long: `The run command builds the units of a simulation file, registers the
given aggregated services, then plays the recipes in order until the
playlist completes, a recipe fails or the process is interrupted.`,
	Example: `polaris run --units plant.yaml heat.yaml mix.yaml
polaris run --units plant.yaml --aggregated dose_and_mix.json --repeat mix.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unitsFile, err := cmd.Flags().GetString("units")
		if err != nil {
			return err
		}
		aggregatedFiles, err := cmd.Flags().GetStringSlice("aggregated")
		if err != nil {
			return err
		}
		repeat, err := cmd.Flags().GetBool("repeat")
		if err != nil {
			return err
		}
		return runRecipes(unitsFile, aggregatedFiles, args, repeat)
	},
}

func newWriters() []event.Writer {
	writers := []event.Writer{&event.LogWriter{}}
	if endpoints := viper.GetStringSlice("kafkaEndpoints"); len(endpoints) > 0 {
		writers = append(writers, event.NewTopicWriter(func(t topic.Topic) event.Writer {
			return event.NewWriterWithTopic(endpoints, t)
		}))
		log.WithField("endpoints", endpoints).Info("publishing events to kafka")
	}
	return writers
}

func newManager() *manager.Manager {
	return manager.New(manager.Options{
		StateChangeTimeout: viper.GetDuration("unit.stateChangeTimeout"),
		SettleDelay:        viper.GetDuration("player.settleDelay"),
		Operation: operation.Options{
			MaxAttempts: viper.GetInt("operation.maxAttempts"),
			RetryDelay:  viper.GetDuration("operation.retryDelay"),
		},
		Writers: newWriters(),
	})
}

func load(m *manager.Manager, unitsFile string, aggregatedFiles, recipeFiles []string) error {
	data, err := os.ReadFile(unitsFile)
	if err != nil {
		return err
	}
	doc, err := simulation.Decode(data)
	if err != nil {
		return err
	}
	units, err := doc.Build(nil)
	if err != nil {
		return err
	}
	for _, u := range units {
		if err = m.AddUnit(u); err != nil {
			return err
		}
	}

	for _, file := range aggregatedFiles {
		if data, err = os.ReadFile(file); err != nil {
			return err
		}
		if _, err = m.LoadAggregated(data); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}

	for _, file := range recipeFiles {
		if data, err = os.ReadFile(file); err != nil {
			return err
		}
		r, err := m.LoadRecipe(data)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		for _, w := range r.Warnings() {
			log.WithField("recipe", r.Name()).Warn(w)
		}
		m.Player().Add(r)
	}
	return nil
}

func runRecipes(unitsFile string, aggregatedFiles, recipeFiles []string, repeat bool) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if address := viper.GetString("metrics.address"); address != "" {
		go func() {
			if err := monitoring.Run(address, viper.GetString("metrics.endpoint")); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		defer monitoring.Stop()
	}

	m := newManager()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			log.WithError(shutdownErr).Warn("shutdown incomplete")
		}
		printRuns(os.Stdout, m.Player().Runs())
		printServices(os.Stdout, m.Units())
	}()

	if err = load(m, unitsFile, aggregatedFiles, recipeFiles); err != nil {
		return err
	}

	p := m.Player()
	p.Repeat(repeat)
	if err = p.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted, stopping player")
			return nil
		case <-ticker.C:
		}
		switch p.Status() {
		case player.Completed:
			return nil
		case player.Stopped:
			return lastRunError(p.Runs())
		}
	}
}

// lastRunError reports the run that stopped the player, if it failed.
func lastRunError(runs []player.Run) error {
	if len(runs) == 0 {
		return nil
	}
	last := runs[len(runs)-1]
	switch {
	case last.Err != "":
		return fmt.Errorf("recipe %s: %s", last.RecipeName, last.Err)
	case last.Status != recipe.Completed:
		return fmt.Errorf("recipe %s ended %s", last.RecipeName, last.Status)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("units", "u", "", "simulation file describing the units")
	runCmd.Flags().StringSliceP("aggregated", "a", nil, "aggregated service documents to register before the recipes")
	runCmd.Flags().BoolP("repeat", "r", false, "restart the playlist after the last recipe")
	runCmd.Flags().String("metrics", "", "serve prometheus metrics on HOST:PORT")
	_ = runCmd.MarkFlagRequired("units")

	bindFlags(runCmd.Flags(), map[string]string{"metrics": "metrics.address"})
}
