// Package tool declares the static per-user capability specs attached to
// session.update. Specs are immutable for the session lifetime.
package tool

type Choice string

const (
	ChoiceAuto Choice = "auto"
	ChoiceNone Choice = "none"
)

type Tool struct {
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

type Parameters struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required"`
}

type Properties map[string]Property

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Retrieval builds the retrieval tool bound to one knowledge base. The
// binding is fixed at session setup and never changes mid-conversation.
func Retrieval(knowledgeBaseID string) Tool {
	return Tool{
		Type:        "function",
		Name:        "retrieval",
		Description: "Search the user's personal knowledge base for memories relevant to the query.",
		Parameters: Parameters{
			Type: "object",
			Properties: Properties{
				"query": {
					Type:        "string",
					Description: "What to look up.",
				},
				"knowledge_base_id": {
					Type:        "string",
					Description: "Knowledge base to search.",
					Enum:        []any{knowledgeBaseID},
				},
			},
			Required: []string{"query"},
		},
	}
}
