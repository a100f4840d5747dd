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

package schemata

// definitions shared by every document schema
const definitions = `
    "definitions": {
        "condition": {
            "type": "object",
            "required": ["type"],
            "properties": {
                "type": {
                    "type": "string",
                    "enum": ["time", "state", "variable", "expression", "and", "or", "not"]
                },
                "duration": {"type": "number", "exclusiveMinimum": 0},
                "module": {"type": "string"},
                "service": {"type": "string"},
                "state": {"type": "string"},
                "dataAssembly": {"type": "string"},
                "variable": {"type": "string"},
                "operator": {"type": "string", "enum": ["==", "<", ">", "<=", ">="]},
                "value": {"type": ["number", "string", "boolean"]},
                "expression": {"type": "string"},
                "scope": {"type": "array", "items": {"$ref": "#/definitions/scopeItem"}},
                "conditions": {"type": "array", "items": {"$ref": "#/definitions/condition"}},
                "condition": {"$ref": "#/definitions/condition"}
            }
        },
        "scopeItem": {
            "type": "object",
            "required": ["name", "dataAssembly"],
            "properties": {
                "name": {"type": "string"},
                "module": {"type": "string"},
                "dataAssembly": {"type": "string"},
                "variable": {"type": "string"}
            }
        },
        "operation": {
            "type": "object",
            "required": ["service"],
            "properties": {
                "module": {"type": "string"},
                "service": {"type": "string"},
                "strategy": {"type": "string"},
                "command": {
                    "type": "string",
                    "enum": ["start", "restart", "stop", "pause", "resume", "complete", "abort", "reset", "hold", "unhold"]
                },
                "parameter": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "required": ["name", "value"],
                        "properties": {
                            "name": {"type": "string"},
                            "value": {"type": ["number", "string", "boolean"]},
                            "scope": {"type": "array", "items": {"$ref": "#/definitions/scopeItem"}}
                        }
                    }
                }
            }
        },
        "petrinet": {
            "type": "object",
            "required": ["states", "transitions", "initialTransition"],
            "properties": {
                "initialTransition": {"type": "string"},
                "states": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "required": ["id"],
                        "properties": {
                            "id": {"type": "string"},
                            "operations": {"type": "array", "items": {"$ref": "#/definitions/operation"}},
                            "nextTransitions": {"type": "array", "items": {"type": "string"}}
                        }
                    }
                },
                "transitions": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "required": ["id", "condition"],
                        "properties": {
                            "id": {"type": "string"},
                            "condition": {"$ref": "#/definitions/condition"},
                            "nextStates": {"type": "array", "items": {"type": "string"}}
                        }
                    }
                }
            }
        }
    }`

const (
	Recipe = `{
    "$schema": "http://json-schema.org/draft-07/schema#",
    "title": "Recipe",
    "type": "object",
    "required": ["name", "initial_step", "steps"],
    "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "protected": {"type": "boolean"},
        "initial_step": {"type": "string"},
        "steps": {
            "type": "array",
            "minItems": 1,
            "items": {
                "type": "object",
                "required": ["name", "transitions"],
                "properties": {
                    "name": {"type": "string"},
                    "operations": {"type": "array", "items": {"$ref": "#/definitions/operation"}},
                    "transitions": {
                        "type": "array",
                        "items": {
                            "type": "object",
                            "required": ["next_step", "condition"],
                            "properties": {
                                "next_step": {"type": "string"},
                                "condition": {"$ref": "#/definitions/condition"}
                            }
                        }
                    }
                }
            }
        }
    },` + definitions + `
}`

	Petrinet = `{
    "$schema": "http://json-schema.org/draft-07/schema#",
    "title": "Petrinet",
    "allOf": [{"$ref": "#/definitions/petrinet"}],` + definitions + `
}`

	Aggregated = `{
    "$schema": "http://json-schema.org/draft-07/schema#",
    "title": "Aggregated service",
    "type": "object",
    "required": ["name", "necessaryServices"],
    "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "necessaryServices": {
            "type": "array",
            "minItems": 1,
            "items": {
                "type": "object",
                "required": ["pea", "service"],
                "properties": {
                    "pea": {"type": "string"},
                    "service": {"type": "string"}
                }
            }
        },
        "stateMachine": {
            "type": "object",
            "propertyNames": {
                "enum": ["starting", "execute", "pausing", "resuming", "completing", "aborting", "stopping", "holding", "unholding", "resetting"]
            },
            "additionalProperties": {"$ref": "#/definitions/petrinet"}
        },
        "commandEnable": {
            "type": "object",
            "propertyNames": {
                "enum": ["start", "restart", "stop", "pause", "resume", "complete", "abort", "reset", "hold", "unhold"]
            },
            "additionalProperties": {"type": "string"}
        },
        "parameters": {
            "type": "array",
            "items": {
                "type": "object",
                "required": ["name"],
                "properties": {
                    "name": {"type": "string"},
                    "unit": {"type": "string"},
                    "default": {},
                    "value": {}
                }
            }
        }
    },` + definitions + `
}`
)
