package models

// JSONSchema is the subset of JSON Schema built from a form field list.
type JSONSchema struct {
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties,omitempty"`
	Required   []string             `json:"required,omitempty"`
	Title      string               `json:"title,omitempty"`
}

// Property represents a JSON Schema property
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []any    `json:"enum,omitempty"`
	Format      string   `json:"format,omitempty"`
	MinLength   *int     `json:"minLength,omitempty"`
	MaxLength   *int     `json:"maxLength,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Schema converts the field list into a JSON Schema object.
func (c *FormInputConfig) Schema() *JSONSchema {
	schema := &JSONSchema{
		Type:       "object",
		Properties: make(map[string]*Property, len(c.Fields)),
	}

	for _, field := range c.Fields {
		prop := &Property{Description: field.Label}

		switch field.Type {
		case FieldTypeNumber:
			prop.Type = "number"
			prop.Minimum = field.Min
			prop.Maximum = field.Max
		case FieldTypeCheckbox:
			prop.Type = "boolean"
		case FieldTypeEmail:
			prop.Type = "string"
			prop.Format = "email"
		case FieldTypeDate:
			prop.Type = "string"
			prop.Format = "date"
		case FieldTypeSelect:
			prop.Type = "string"
			for _, opt := range field.Options {
				prop.Enum = append(prop.Enum, opt)
			}
		default:
			prop.Type = "string"
		}

		if prop.Type == "string" {
			prop.MinLength = field.MinLength
			prop.MaxLength = field.MaxLength
		}

		schema.Properties[field.Name] = prop

		if field.Required {
			schema.Required = append(schema.Required, field.Name)
		}
	}

	return schema
}
