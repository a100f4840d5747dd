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

// Package schemata validates recipe, petrinet and aggregated-service
// documents before they are decoded and built.
package schemata

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatRecipe     = Format("recipe")
	FormatPetrinet   = Format("petrinet")
	FormatAggregated = Format("aggregated")
)

var ErrUnknownFormat = errors.New("format not recipe, petrinet or aggregated")

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatRecipe, FormatPetrinet, FormatAggregated:
		return f, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownFormat)
}

func (f Format) schema() (string, error) {
	switch f {
	case FormatRecipe:
		return Recipe, nil
	case FormatPetrinet:
		return Petrinet, nil
	case FormatAggregated:
		return Aggregated, nil
	}
	return "", ErrUnknownFormat
}

// Validate checks a YAML or JSON document against the schema of format.
// Every violation is reported.
func Validate(input []byte, format Format) error {
	schema, err := format.schema()
	if err != nil {
		return fmt.Errorf("failed to obtain schema: %w", err)
	}

	var inputData interface{}
	if err := yaml.Unmarshal(input, &inputData); err != nil {
		return fmt.Errorf("unmarshaling YAML failed: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(inputData)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("error loading data: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var merr *multierror.Error
	for _, desc := range result.Errors() {
		merr = multierror.Append(merr, errors.New(desc.String()))
	}
	return fmt.Errorf("%s document is not valid: %w", format, merr.ErrorOrNil())
}
