package provider

// ParamType is the JSON Schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

type Parameter struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
	Required    bool      `json:"required" yaml:"required"`
}

// ToolSpec declares a tool to the model: its name, what it does and the
// arguments it accepts.
type ToolSpec struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// InputSchema renders the parameters as a JSON Schema object.
func (s ToolSpec) InputSchema() map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": s.Properties(),
	}
	if req := s.Required(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

func (s ToolSpec) Properties() map[string]any {
	props := make(map[string]any, len(s.Parameters))
	for _, p := range s.Parameters {
		typ := p.Type
		if typ == "" {
			typ = TypeString
		}
		prop := map[string]any{
			"type":        string(typ),
			"description": p.Description,
		}
		if typ == TypeArray {
			prop["items"] = map[string]any{"type": "string"}
		}
		props[p.Name] = prop
	}
	return props
}

func (s ToolSpec) Required() []string {
	var req []string
	for _, p := range s.Parameters {
		if p.Required {
			req = append(req, p.Name)
		}
	}
	return req
}
