package contracts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/request.schema.json
var requestSchemaJSON string

const requestSchemaURL = "https://gate.schemas.local/request.schema.json"

// ValidationError reports a malformed request. It is returned before any
// evaluation takes place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var requestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(requestSchemaURL, strings.NewReader(requestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("request schema load failed: %w", err)
	}
	compiled, err := c.Compile(requestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("request schema compile failed: %w", err)
	}
	return compiled, nil
})

// DecodeRequest validates data against the request schema and decodes it.
func DecodeRequest(data []byte) (*Request, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return &req, nil
}

// ValidateRequest checks an in-memory request against the same schema used at the
// HTTP boundary. Values that cannot be encoded as JSON (NaN, ±Inf) are rejected.
func ValidateRequest(req *Request) error {
	if req == nil {
		return &ValidationError{Message: "request is required"}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return &ValidationError{Field: "transaction.amount", Message: err.Error()}
	}
	return validateDocument(data)
}

func validateDocument(data []byte) error {
	schema, err := requestSchema()
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &ValidationError{Message: "malformed JSON: " + err.Error()}
	}
	if dec.More() {
		return &ValidationError{Message: "unexpected data after JSON document"}
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return schemaError(ve)
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// schemaError reduces a jsonschema error tree to its most specific leaf.
func schemaError(ve *jsonschema.ValidationError) *ValidationError {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	field = strings.ReplaceAll(field, "/", ".")
	return &ValidationError{Field: field, Message: leaf.Message}
}
