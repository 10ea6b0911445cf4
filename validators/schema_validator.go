// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package validators

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrCompileSchema is returned when a response schema document cannot be compiled.
var ErrCompileSchema = errors.New("failed to compile response schema")

const schemaResourceURL = "urn:modelgym:response-schema"

// CompileSchema compiles a raw JSON Schema document for response validation.
func CompileSchema(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompileSchema, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResourceURL, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompileSchema, err)
	}

	schema, err := compiler.Compile(schemaResourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompileSchema, err)
	}
	return schema, nil
}

// ValidateStructured checks that the response is well-formed JSON and,
// when a compiled schema is provided, that it conforms to the schema.
// A malformed document fails with a parse-error reason; it is a validation
// failure, not an error condition.
func ValidateStructured(response string, schema *jsonschema.Schema) Result {
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(response))
	if err != nil {
		return fail(fmt.Sprintf("invalid structured response: %v", err))
	}

	if schema != nil {
		if err := schema.Validate(instance); err != nil {
			return fail(fmt.Sprintf("structured response does not conform to schema: %v", err))
		}
	}

	return pass("structured response is well-formed")
}
