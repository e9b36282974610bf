package caravan

import "testing"

func TestNewPool_Validation(t *testing.T) {
	tests := []struct {
		name    string
		experts []Expert
		wantErr bool
	}{
		{"valid", []Expert{{ID: "a", Agents: []string{"a1"}}}, false},
		{"empty id", []Expert{{Agents: []string{"a1"}}}, true},
		{"duplicate id", []Expert{
			{ID: "a", Agents: []string{"a1"}},
			{ID: "a", Agents: []string{"a2"}},
		}, true},
		{"no agents", []Expert{{ID: "a"}}, true},
		{"negative weight", []Expert{{ID: "a", Agents: []string{"a1"}, Weight: -1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(tt.experts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPool error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewPool_DefaultWeight(t *testing.T) {
	pool, err := NewPool([]Expert{{ID: "a", Agents: []string{"a1"}}})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := pool.Get("a")
	if e.Weight != 1.0 {
		t.Errorf("weight = %v, want 1.0", e.Weight)
	}
}

func TestPool_AgentMembership(t *testing.T) {
	pool := testPool(
		Expert{ID: "a", Agents: []string{"a1", "shared"}},
		Expert{ID: "b", Agents: []string{"b1", "shared"}},
	)
	if !pool.HasAgent("shared") || !pool.HasAgent("b1") {
		t.Error("agent membership lookup failed")
	}
	if pool.HasAgent("nope") {
		t.Error("unknown agent reported as member")
	}
	e, ok := pool.ExpertForAgent("shared")
	if !ok || e.ID != "a" {
		t.Errorf("ExpertForAgent(shared) = %v, want first expert in configured order", e.ID)
	}
}

func TestExpert_Description(t *testing.T) {
	e := Expert{ID: "x", Agents: []string{"x"}, Capabilities: []string{"stocks", "crypto"}}
	want := "Expert for: stocks, crypto"
	if got := e.Description(); got != want {
		t.Errorf("Description() = %q, want %q", got, want)
	}
}
