package authz

import (
	"fmt"
	"sort"
)

// Operator is a comparison operator usable in a condition leaf.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// operators is the closed operator set.
var operators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpIn: {}, OpNotIn: {}, OpContains: {}, OpNotContains: {},
}

// ValidOperator reports whether op belongs to the closed operator set.
func ValidOperator(op Operator) bool {
	_, ok := operators[op]
	return ok
}

// Ordered reports whether op is one of the four ordering comparisons.
func (op Operator) Ordered() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// NodeKind discriminates the variants of a ConditionNode.
type NodeKind int

const (
	// NodeAnd is true when all children are true.
	NodeAnd NodeKind = iota
	// NodeOr is true when any child is true.
	NodeOr
	// NodeLeaf is a single attribute comparison.
	NodeLeaf
)

// ConditionNode is a compiled condition tree node. Trees are built once at
// load time from the JSON grammar; evaluation is a tag switch, not a map walk.
type ConditionNode struct {
	// Kind selects the variant.
	Kind NodeKind
	// Children are the sub-conditions of an AND/OR node.
	Children []ConditionNode
	// Path is the attribute path of a leaf (e.g. "subject.dept" or "action").
	Path string
	// Op is the comparison operator of a leaf.
	Op Operator
	// Literal is the expected value of a leaf, as decoded from JSON.
	Literal any
}

// CompileConditions builds a ConditionNode tree from a decoded JSON condition
// object. The grammar:
//
//	{"AND": [tree, ...]}
//	{"OR":  [tree, ...]}
//	{"<domain>.<name>": {"<op>": <literal>, ...}, ...}
//
// Multiple attribute keys in one object and multiple operators inside one
// attribute object are AND-joined. Keys are compiled in sorted order so the
// resulting tree is deterministic.
//
// CompileConditions enforces structure only; semantic checks (known paths,
// known operators, literal types) belong to the policy validator, which runs
// before compilation and produces accumulated, human-readable errors.
func CompileConditions(raw map[string]any) (*ConditionNode, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("conditions must not be empty")
	}

	if branch, ok := raw["AND"]; ok {
		if len(raw) > 1 {
			return nil, fmt.Errorf("AND node must not carry sibling keys")
		}
		children, err := compileBranch(branch)
		if err != nil {
			return nil, fmt.Errorf("AND: %w", err)
		}
		return &ConditionNode{Kind: NodeAnd, Children: children}, nil
	}

	if branch, ok := raw["OR"]; ok {
		if len(raw) > 1 {
			return nil, fmt.Errorf("OR node must not carry sibling keys")
		}
		children, err := compileBranch(branch)
		if err != nil {
			return nil, fmt.Errorf("OR: %w", err)
		}
		return &ConditionNode{Kind: NodeOr, Children: children}, nil
	}

	return compileLeafObject(raw)
}

// compileBranch compiles the child list of an AND/OR node.
func compileBranch(branch any) ([]ConditionNode, error) {
	list, ok := branch.([]any)
	if !ok {
		return nil, fmt.Errorf("branch must be a list of conditions")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("branch must not be empty")
	}

	children := make([]ConditionNode, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("condition %d must be an object", i)
		}
		child, err := CompileConditions(obj)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		children = append(children, *child)
	}
	return children, nil
}

// compileLeafObject compiles an attribute-comparison object. One path with one
// operator yields a single leaf; anything more yields an AND of leaves.
func compileLeafObject(raw map[string]any) (*ConditionNode, error) {
	paths := make([]string, 0, len(raw))
	for path := range raw {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var leaves []ConditionNode
	for _, path := range paths {
		opObj, ok := raw[path].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("attribute %q must map to an operator object", path)
		}
		if len(opObj) == 0 {
			return nil, fmt.Errorf("attribute %q has no operators", path)
		}

		ops := make([]string, 0, len(opObj))
		for op := range opObj {
			ops = append(ops, op)
		}
		sort.Strings(ops)

		for _, op := range ops {
			leaves = append(leaves, ConditionNode{
				Kind:    NodeLeaf,
				Path:    path,
				Op:      Operator(op),
				Literal: opObj[op],
			})
		}
	}

	if len(leaves) == 1 {
		return &leaves[0], nil
	}
	return &ConditionNode{Kind: NodeAnd, Children: leaves}, nil
}
