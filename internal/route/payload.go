package route

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// DecodeBody decodes a JSON object. An empty body decodes to an empty map.
// Numbers are kept as json.Number so they are forwarded unchanged.
func DecodeBody(r io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeObject(raw)
}

// DecodeObject decodes raw as a JSON object.
func DecodeObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &PayloadError{Detail: "malformed JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, &PayloadError{Detail: "trailing data after JSON object"}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &PayloadError{Detail: "body must be a JSON object"}
	}
	return obj, nil
}

// Validate checks payload against the route schema, if any.
func (d *Descriptor) Validate(payload map[string]any) error {
	if d.schema == nil {
		return nil
	}

	if payload == nil {
		payload = map[string]any{}
	}
	err := d.schema.Validate(payload)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &PayloadError{Detail: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	location := ""
	if len(ve.InstanceLocation) > 0 {
		location = "/" + strings.Join(ve.InstanceLocation, "/")
	}
	return &PayloadError{Location: location, Detail: ve.ErrorKind.LocalizedString(printer)}
}

// HasSchema reports whether the route validates payloads.
func (d *Descriptor) HasSchema() bool {
	return d.schema != nil
}

func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	// Round trip through JSON so YAML ints become json.Number.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	compiler.AssertFormat()
	if err := compiler.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
