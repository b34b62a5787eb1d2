// Package types provides shared types for the pipeline service and its job runner.
package types

import (
	"encoding/json"
	"strings"
)

// FlowGraph is the node/edge description of a pipeline as drawn in the editor.
type FlowGraph struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

// FlowNode is a single node of a flow graph.
type FlowNode struct {
	ID    string        `json:"id"`
	Label string        `json:"label,omitempty"`
	Data  *FlowNodeData `json:"data,omitempty"`
}

// FlowNodeData carries editor-side node attributes.
type FlowNodeData struct {
	Label string `json:"label,omitempty"`
}

// FlowEdge connects two nodes by id.
type FlowEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Params maps a step kind's params key to its raw payload.
type Params map[string]json.RawMessage

// Kind returns the node's step kind: its label, or the label nested under data.
func (n FlowNode) Kind() string {
	if label := strings.TrimSpace(n.Label); label != "" {
		return label
	}
	if n.Data != nil {
		return strings.TrimSpace(n.Data.Label)
	}
	return ""
}

// SubmitRequest is the body of a run submission.
type SubmitRequest struct {
	Flow   FlowGraph `json:"flow"`
	Params Params    `json:"params,omitempty"`
}
