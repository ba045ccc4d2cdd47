package tools

// Tool enumerates the actions the assistant may request. Adding a tool means
// adding a constant here and a case in Dispatcher.Dispatch.
type Tool int

const (
	Unknown Tool = iota
	SendEmail
	FetchProjectMaterial
)

const (
	sendEmailName            = "send_email_to_Brad"
	fetchProjectMaterialName = "fetch_project_material_from_url"
)

// All returns every known tool in declaration order.
func All() []Tool {
	return []Tool{SendEmail, FetchProjectMaterial}
}

// ParseTool maps a wire name to a Tool. Matching is exact; anything else is
// Unknown.
func ParseTool(name string) Tool {
	switch name {
	case sendEmailName:
		return SendEmail
	case fetchProjectMaterialName:
		return FetchProjectMaterial
	}
	return Unknown
}

// String returns the name the assistant uses for the tool.
func (t Tool) String() string {
	switch t {
	case SendEmail:
		return sendEmailName
	case FetchProjectMaterial:
		return fetchProjectMaterialName
	}
	return "unknown"
}
