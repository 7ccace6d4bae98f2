package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SchemaDocument is the structured result of a generation. Mid-stream it may
// be only partially populated.
type SchemaDocument struct {
	ContentTypes []ContentTypeDefinition `json:"content_types"`
}

type ContentTypeDefinition struct {
	ModelName string            `json:"model_name"`
	Name      string            `json:"name"`
	Fields    []FieldDefinition `json:"fields"`
}

// FieldDefinition mirrors provisional model output, so every attribute is optional.
type FieldDefinition struct {
	Label        string       `json:"label,omitempty"`
	MachineName  string       `json:"machine_name,omitempty"`
	FieldType    string       `json:"field_type,omitempty"`
	Cardinality  *Cardinality `json:"cardinality,omitempty"`
	Required     *bool        `json:"required,omitempty"`
	Relationship string       `json:"relationship,omitempty"`
	Default      any          `json:"default,omitempty"`
	Example      any          `json:"example,omitempty"`
}

// Cardinality is either a positive count or unbounded.
type Cardinality struct {
	Count     int
	Unbounded bool
}

const unboundedLiteral = "unlimited"

func Bounded(n int) *Cardinality {
	return &Cardinality{Count: n}
}

func Unbounded() *Cardinality {
	return &Cardinality{Unbounded: true}
}

func (c Cardinality) String() string {
	if c.Unbounded {
		return unboundedLiteral
	}
	return strconv.Itoa(c.Count)
}

func (c Cardinality) MarshalJSON() ([]byte, error) {
	if c.Unbounded {
		return json.Marshal(unboundedLiteral)
	}
	return json.Marshal(c.Count)
}

// UnmarshalJSON accepts numbers, numeric strings and the usual spellings of
// "unbounded". Values it cannot interpret leave the cardinality unset instead
// of failing the whole document.
func (c *Cardinality) UnmarshalJSON(data []byte) error {
	*c = Cardinality{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
	} else {
		raw = string(data)
	}
	raw = strings.ToLower(strings.TrimSpace(raw))

	switch raw {
	case "unlimited", "unbounded", "infinity", "inf", "many", "*", "n":
		c.Unbounded = true
		return nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	if f < 0 {
		// -1 is a common way of writing "no limit"
		c.Unbounded = true
		return nil
	}
	if f >= 1 {
		c.Count = int(f)
	}
	return nil
}

// UnmarshalJSON rejects only documents that are not objects. A
// content_types value that is not an array is ignored.
func (d *SchemaDocument) UnmarshalJSON(data []byte) error {
	*d = SchemaDocument{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if ct, ok := raw["content_types"]; ok && !isNull(ct) {
		var types []ContentTypeDefinition
		if err := json.Unmarshal(ct, &types); err == nil {
			d.ContentTypes = types
		}
	}
	return nil
}

// UnmarshalJSON never fails: mistyped attributes are coerced or dropped.
func (ct *ContentTypeDefinition) UnmarshalJSON(data []byte) error {
	*ct = ContentTypeDefinition{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	ct.ModelName = looseString(raw["model_name"])
	ct.Name = looseString(raw["name"])
	if f, ok := raw["fields"]; ok && !isNull(f) {
		var fields []FieldDefinition
		if err := json.Unmarshal(f, &fields); err == nil {
			ct.Fields = fields
		}
	}
	return nil
}

// UnmarshalJSON never fails: mistyped attributes are coerced or dropped.
func (f *FieldDefinition) UnmarshalJSON(data []byte) error {
	*f = FieldDefinition{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	f.Label = looseString(raw["label"])
	f.MachineName = looseString(raw["machine_name"])
	f.FieldType = looseString(raw["field_type"])
	f.Relationship = looseString(raw["relationship"])
	f.Required = looseBool(raw["required"])
	if c, ok := raw["cardinality"]; ok && !isNull(c) {
		var card Cardinality
		_ = card.UnmarshalJSON(c)
		f.Cardinality = &card
	}
	if v, ok := raw["default"]; ok {
		_ = json.Unmarshal(v, &f.Default)
	}
	if v, ok := raw["example"]; ok {
		_ = json.Unmarshal(v, &f.Example)
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || string(data) == "null"
}

// looseString returns strings as is and numbers or booleans in their JSON
// form. Anything else is empty.
func looseString(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	}
	return string(data)
}

// looseBool reads booleans, numbers and the usual yes/no spellings. Values
// it cannot interpret are nil.
func looseBool(data json.RawMessage) *bool {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
	}

	var b bool
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "y", "1", "required", "on":
		b = true
	case "false", "no", "n", "0", "optional", "off":
		b = false
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		b = f != 0
	}
	return &b
}

// ContentType returns the content type with the given model name.
func (d *SchemaDocument) ContentType(modelName string) (*ContentTypeDefinition, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.ContentTypes {
		if d.ContentTypes[i].ModelName == modelName {
			return &d.ContentTypes[i], true
		}
	}
	return nil, false
}

// Validate lists structural problems in the document. An empty result does
// not mean the document is complete, only that nothing contradicts itself.
func (d *SchemaDocument) Validate() []string {
	if d == nil {
		return nil
	}

	var problems []string
	seen := make(map[string]bool, len(d.ContentTypes))
	for _, ct := range d.ContentTypes {
		if ct.ModelName == "" {
			problems = append(problems, fmt.Sprintf("content type %q has no model_name", ct.Name))
			continue
		}
		if seen[ct.ModelName] {
			problems = append(problems, fmt.Sprintf("duplicate model_name %q", ct.ModelName))
		}
		seen[ct.ModelName] = true
	}

	for _, ct := range d.ContentTypes {
		for i, f := range ct.Fields {
			if f.MachineName == "" && f.Label == "" {
				problems = append(problems, fmt.Sprintf("%s: field #%d has neither label nor machine_name", ct.ModelName, i+1))
			}
			if f.Relationship != "" && !seen[f.Relationship] {
				problems = append(problems, fmt.Sprintf("%s.%s: relationship to unknown content type %q", ct.ModelName, f.displayName(i), f.Relationship))
			}
		}
	}
	return problems
}

func (f FieldDefinition) displayName(index int) string {
	if f.MachineName != "" {
		return f.MachineName
	}
	if f.Label != "" {
		return f.Label
	}
	return fmt.Sprintf("#%d", index+1)
}

// DecodeSchemaDocument converts a loosely typed JSON value, such as the
// output of the extractor, into a SchemaDocument.
func DecodeSchemaDocument(v any) (*SchemaDocument, error) {
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("schema document must be a JSON object, got %T", v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc SchemaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
