package authz

import "testing"

func TestCompileConditions_SingleLeaf(t *testing.T) {
	raw := map[string]any{
		"subject.dept": map[string]any{"eq": "HR"},
	}

	node, err := CompileConditions(raw)
	if err != nil {
		t.Fatalf("CompileConditions() error = %v", err)
	}
	if node.Kind != NodeLeaf {
		t.Fatalf("Kind = %v, want NodeLeaf", node.Kind)
	}
	if node.Path != "subject.dept" {
		t.Errorf("Path = %q, want subject.dept", node.Path)
	}
	if node.Op != OpEq {
		t.Errorf("Op = %q, want eq", node.Op)
	}
	if node.Literal != "HR" {
		t.Errorf("Literal = %v, want HR", node.Literal)
	}
}

func TestCompileConditions_MultiOpLeafBecomesAnd(t *testing.T) {
	raw := map[string]any{
		"subject.riskScore": map[string]any{
			"gte": float64(10),
			"lt":  float64(50),
		},
	}

	node, err := CompileConditions(raw)
	if err != nil {
		t.Fatalf("CompileConditions() error = %v", err)
	}
	if node.Kind != NodeAnd {
		t.Fatalf("Kind = %v, want NodeAnd", node.Kind)
	}
	if len(node.Children) != 2 {
		t.Fatalf("len(Children) = %d, want 2", len(node.Children))
	}
	// Operators compile in sorted order.
	if node.Children[0].Op != OpGte || node.Children[1].Op != OpLt {
		t.Errorf("child ops = %q, %q; want gte, lt", node.Children[0].Op, node.Children[1].Op)
	}
}

func TestCompileConditions_MultiPathObjectBecomesAnd(t *testing.T) {
	raw := map[string]any{
		"subject.dept":  map[string]any{"eq": "HR"},
		"resource.type": map[string]any{"eq": "payroll"},
		"action":        map[string]any{"eq": "read"},
	}

	node, err := CompileConditions(raw)
	if err != nil {
		t.Fatalf("CompileConditions() error = %v", err)
	}
	if node.Kind != NodeAnd {
		t.Fatalf("Kind = %v, want NodeAnd", node.Kind)
	}
	if len(node.Children) != 3 {
		t.Fatalf("len(Children) = %d, want 3", len(node.Children))
	}
	// Paths compile in sorted order.
	want := []string{"action", "resource.type", "subject.dept"}
	for i, w := range want {
		if node.Children[i].Path != w {
			t.Errorf("Children[%d].Path = %q, want %q", i, node.Children[i].Path, w)
		}
	}
}

func TestCompileConditions_Branches(t *testing.T) {
	raw := map[string]any{
		"OR": []any{
			map[string]any{"subject.dept": map[string]any{"eq": "HR"}},
			map[string]any{
				"AND": []any{
					map[string]any{"subject.riskScore": map[string]any{"lt": float64(30)}},
					map[string]any{"context.deviceTrusted": map[string]any{"eq": true}},
				},
			},
		},
	}

	node, err := CompileConditions(raw)
	if err != nil {
		t.Fatalf("CompileConditions() error = %v", err)
	}
	if node.Kind != NodeOr {
		t.Fatalf("Kind = %v, want NodeOr", node.Kind)
	}
	if len(node.Children) != 2 {
		t.Fatalf("len(Children) = %d, want 2", len(node.Children))
	}
	if node.Children[0].Kind != NodeLeaf {
		t.Errorf("Children[0].Kind = %v, want NodeLeaf", node.Children[0].Kind)
	}
	inner := node.Children[1]
	if inner.Kind != NodeAnd {
		t.Fatalf("Children[1].Kind = %v, want NodeAnd", inner.Kind)
	}
	if len(inner.Children) != 2 {
		t.Errorf("len(inner.Children) = %d, want 2", len(inner.Children))
	}
}

func TestCompileConditions_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"empty object", map[string]any{}},
		{"AND with sibling key", map[string]any{
			"AND":          []any{map[string]any{"action": map[string]any{"eq": "read"}}},
			"subject.dept": map[string]any{"eq": "HR"},
		}},
		{"AND not a list", map[string]any{"AND": "nope"}},
		{"empty AND list", map[string]any{"AND": []any{}}},
		{"OR child not an object", map[string]any{"OR": []any{"nope"}}},
		{"attribute without operator object", map[string]any{"subject.dept": "HR"}},
		{"attribute with empty operator object", map[string]any{"subject.dept": map[string]any{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompileConditions(tt.raw); err == nil {
				t.Error("CompileConditions() error = nil, want error")
			}
		})
	}
}

func TestValidOperator(t *testing.T) {
	for _, op := range []Operator{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpNotContains} {
		if !ValidOperator(op) {
			t.Errorf("ValidOperator(%q) = false, want true", op)
		}
	}
	if ValidOperator("matches") {
		t.Error("ValidOperator(matches) = true, want false")
	}
}

func TestOperatorOrdered(t *testing.T) {
	ordered := map[Operator]bool{
		OpEq: false, OpNe: false,
		OpGt: true, OpGte: true, OpLt: true, OpLte: true,
		OpIn: false, OpNotIn: false, OpContains: false, OpNotContains: false,
	}
	for op, want := range ordered {
		if got := op.Ordered(); got != want {
			t.Errorf("%q.Ordered() = %v, want %v", op, got, want)
		}
	}
}
