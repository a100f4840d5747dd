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
	"time"

	"github.com/fatih/color"
	"github.com/p2o-lab/polaris-backend-sub002/common/product"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// aboutCmd represents the about command
var aboutCmd = &cobra.Command{
	Use:     "about",
	Aliases: []string{"version"},
	Short:   fmt.Sprintf("about %s", product.NAME),
	Long:    `The about command shows some basic information on this utility.`,
	Run: func(*cobra.Command, []string) {
		color.Set(color.FgHiWhite)
		fmt.Print(product.PRETTY_SHORTNAME + " *** ")
		color.Set(color.FgHiGreen)
		fmt.Printf("%s\n", product.PRETTY_FULLNAME)
		color.Unset()
		fmt.Printf(`
version:         %s
config:          %s
kafka:           %s
metrics:         %s
`,
			color.HiGreenString(product.VersionBuild()),
			color.HiGreenString(func() string {
				if len(viper.ConfigFileUsed()) > 0 {
					return viper.ConfigFileUsed()
				}
				return "builtin"
			}()),
			color.HiGreenString(orNone(fmt.Sprint(viper.GetStringSlice("kafkaEndpoints")), len(viper.GetStringSlice("kafkaEndpoints")) == 0)),
			color.HiGreenString(orNone(viper.GetString("metrics.address"), viper.GetString("metrics.address") == "")))

		color.Set(color.FgHiBlue)
		fmt.Printf("\nCopyright 2026-%d the Polaris authors.\n"+
			"This program is free software: you can redistribute it and/or modify \n"+
			"it under the terms of the GNU General Public License as published by \n"+
			"the Free Software Foundation, either version 3 of the License, or \n"+
			"(at your option) any later version.\n", time.Now().Year())
		color.Unset()
	},
}

func orNone(s string, none bool) string {
	if none {
		return "none"
	}
	return s
}

func init() {
	rootCmd.AddCommand(aboutCmd)
}
