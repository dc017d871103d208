package core

import "testing"

func FuzzEvaluateInvariants(f *testing.F) {
	f.Add("checkout.newFlow", "user-42", "", "beta", 50, uint8(0))
	f.Add("flag", "", "anon-1", "", 0, uint8(3))
	f.Add("", " ", "", "banned", 100, uint8(255))

	f.Fuzz(func(t *testing.T, key, userID, anonID, group string, percent int, mode uint8) {
		opts := []DefinitionOption{Rollout(percent), Enabled(mode%7 != 0)}
		if mode%2 == 0 {
			opts = append(opts, WithVariant("a", int(mode)), WithVariant("b", int(mode/2)))
		}
		if mode%3 == 0 {
			opts = append(opts, WithTargeting(NewTargeting(DenyGroups("banned"), AllowGroups("beta"))))
		}

		store := mapStore{}
		if def, err := NewDefinition(key, opts...); err == nil {
			store[key] = def
		}
		engine, err := NewEngine(store)
		if err != nil {
			t.Fatalf("NewEngine() error = %v", err)
		}

		evalContext := NewEvaluationContext(
			WithUserID(userID),
			WithGroups(group),
			WithAttribute(anonIDAttribute, anonID),
		)

		first := engine.Evaluate(key, evalContext)
		second := engine.Evaluate(key, evalContext)
		if first.Enabled != second.Enabled || first.Variant != second.Variant || first.Reason != second.Reason {
			t.Fatalf("Evaluate() not deterministic: %+v vs %+v", first, second)
		}
		if !first.Enabled && first.Variant != VariantOff {
			t.Fatalf("disabled decision variant = %q, want %q", first.Variant, VariantOff)
		}
		if first.Enabled && first.Variant == "" {
			t.Fatal("enabled decision has empty variant")
		}
		if first.Meta["key"] != key {
			t.Fatalf("Meta[key] = %v, want %q", first.Meta["key"], key)
		}
	})
}
