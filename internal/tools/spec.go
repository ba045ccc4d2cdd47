package tools

type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToAPIDefinition converts the spec into the function-tool JSON shape the
// assistant is configured with.
func (s Spec) ToAPIDefinition() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  s.Parameters,
		},
	}
}

// SpecsToAPIDefinitions converts a slice of Spec into API definitions.
func SpecsToAPIDefinitions(specs []Spec) []map[string]any {
	if len(specs) == 0 {
		return nil
	}
	defs := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, spec.ToAPIDefinition())
	}
	return defs
}

// Specs describes every known tool.
func Specs() []Spec {
	specs := make([]Spec, 0, len(All()))
	for _, t := range All() {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Spec returns the definition registered with the assistant for t.
func (t Tool) Spec() Spec {
	switch t {
	case SendEmail:
		return Spec{
			Name:        t.String(),
			Description: "Send an email to Brad on behalf of the visitor. Collect every required field from the visitor before calling.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject":      stringProp("Subject line of the email"),
					"body":         stringProp("Message for Brad"),
					"email":        stringProp("Visitor's email address"),
					"name":         stringProp("Visitor's full name"),
					"occupation":   stringProp("Visitor's occupation or company"),
					"phone_number": stringProp("Visitor's phone number, if they offered one"),
				},
				"required": []string{"subject", "body", "email", "name", "occupation"},
			},
		}
	case FetchProjectMaterial:
		return Spec{
			Name:        t.String(),
			Description: "Fetch a web page about one of Brad's projects and return its visible text.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": stringProp("Absolute URL of the page"),
				},
				"required": []string{"url"},
			},
		}
	}
	return Spec{}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
