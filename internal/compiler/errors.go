package compiler

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPlan is returned when no node resolves to a known step kind.
	ErrEmptyPlan = errors.New("no executable steps")

	// ErrInvalidGraph is returned for structurally broken graphs (empty or duplicate node ids).
	ErrInvalidGraph = errors.New("invalid flow graph")

	// ErrCyclicGraph is returned by the flatten policy for graphs with a cycle.
	ErrCyclicGraph = errors.New("flow graph contains a cycle")

	// ErrNonLinearGraph is returned by the strict policy for anything but a single chain.
	ErrNonLinearGraph = errors.New("flow graph is not a linear chain")

	// ErrUnknownPolicy is returned by ParsePolicy.
	ErrUnknownPolicy = errors.New("unknown graph policy")
)

// GraphError carries the node and shape behind a compile failure.
type GraphError struct {
	NodeID string
	Shape  Shape
	Err    error
}

func (e *GraphError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
	case e.Shape != "":
		return fmt.Sprintf("%v (shape: %s)", e.Err, e.Shape)
	default:
		return e.Err.Error()
	}
}

func (e *GraphError) Unwrap() error {
	return e.Err
}
