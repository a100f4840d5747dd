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
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/p2o-lab/polaris-backend-sub002/core/schemata"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flags] FILE...",
	Short: "check documents against the recipe, petrinet or aggregated schema",
	Long: `The validate command checks one or more JSON or YAML documents against
the schema selected with --format and lists every violation found.`,
	Example: `polaris validate --format recipe mix.yaml
polaris validate -f aggregated dose_and_mix.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		format, err := schemata.ParseFormat(formatName)
		if err != nil {
			return err
		}
		return validateFiles(format, args)
	},
}

func validateFiles(format schemata.Format, files []string) error {
	var merr *multierror.Error
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err == nil {
			err = schemata.Validate(data, format)
		}
		if err != nil {
			fmt.Printf("%s %s\n", color.HiRedString("INVALID"), file)
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", file, err))
			continue
		}
		fmt.Printf("%s %s\n", color.HiGreenString("VALID"), file)
	}
	return merr.ErrorOrNil()
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("format", "f", string(schemata.FormatRecipe), "document format: recipe, petrinet or aggregated")
}
