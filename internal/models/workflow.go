package models

// WorkflowNode is one node in a worker job graph: a class tag plus an inputs
// map. Input values referencing other nodes are encoded as [node-id, slot]
// pairs, matching the worker's wire format.
type WorkflowNode struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// WorkflowGraph is a complete job graph keyed by node id.
type WorkflowGraph map[string]*WorkflowNode

// Clone returns a structural copy of the graph. Input maps are copied one
// level deep plus nested connection slices, which is as deep as graphs nest.
func (g WorkflowGraph) Clone() WorkflowGraph {
	out := make(WorkflowGraph, len(g))
	for id, node := range g {
		inputs := make(map[string]interface{}, len(node.Inputs))
		for k, v := range node.Inputs {
			if conn, ok := v.([]interface{}); ok {
				inputs[k] = append([]interface{}(nil), conn...)
			} else {
				inputs[k] = v
			}
		}
		out[id] = &WorkflowNode{ClassType: node.ClassType, Inputs: inputs}
	}
	return out
}

// TemplateEntry is one manifest row describing a workflow template.
type TemplateEntry struct {
	Name           string                 `json:"name" yaml:"name" validate:"required"`
	File           string                 `json:"file" yaml:"file" validate:"required"`
	Families       []string               `json:"families" yaml:"families" validate:"required,min=1"`
	AcceptsImage   bool                   `json:"accepts_image" yaml:"accepts_image"`
	AcceptsAdapter bool                   `json:"accepts_adapters" yaml:"accepts_adapters"`
	Defaults       map[string]interface{} `json:"defaults" yaml:"defaults"`
}

// SupportsFamily reports whether the template serves the given model family.
func (t *TemplateEntry) SupportsFamily(family string) bool {
	for _, f := range t.Families {
		if f == family {
			return true
		}
	}
	return false
}
