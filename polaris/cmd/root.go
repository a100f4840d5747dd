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

// Package cmd contains all the entry points for command line
// subcommands, following library convention.
package cmd

import (
	"fmt"
	"os"
	"path"

	"github.com/mitchellh/go-homedir"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/common/product"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var log = logger.New(logrus.StandardLogger(), product.NAME)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   product.NAME,
	Short: product.PRETTY_FULLNAME,
	Long: fmt.Sprintf(`The %s validates and plays recipes on modular process units.

Units are described in a simulation file, aggregated services and recipes
in JSON or YAML documents.`, product.PRETTY_FULLNAME),
	SilenceUsage: true,
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("cannot run command")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("configuration file (default $HOME/.config/%s/settings.yaml)", product.NAME))
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "show verbose output for debug purposes")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{"verbose": "verbose"})
}

// bindFlags binds each flag name to its configuration key, so a flag set on
// the command line overrides the file and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.WithError(err).WithField("flag", name).Fatal("cannot bind flag")
		}
	}
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("verbose", false)
	viper.SetDefault("unit.stateChangeTimeout", "30s")
	viper.SetDefault("operation.maxAttempts", 10)
	viper.SetDefault("operation.retryDelay", "500ms")
	viper.SetDefault("player.settleDelay", "1s")
	viper.SetDefault("kafkaEndpoints", []string{})
	viper.SetDefault("metrics.address", "")
	viper.SetDefault("metrics.endpoint", "/metrics")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			log.WithError(err).Error("cannot find configuration file")
			os.Exit(1)
		}

		// Search config in .config/polaris directory with name "settings.yaml"
		viper.AddConfigPath(path.Join(home, ".config", product.NAME))
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix(product.NAME)
	viper.AutomaticEnv()

	configErr := viper.ReadInConfig()
	logger.Setup(viper.GetString("log.level"), viper.GetBool("verbose"))
	if configErr == nil {
		log.WithField("file", viper.ConfigFileUsed()).
			Debug("configuration loaded")
	} else if cfgFile != "" {
		log.WithError(configErr).Fatal("cannot read configuration file")
	}

	if viper.GetBool("verbose") {
		viper.Set("log.level", "debug")
	}
}
