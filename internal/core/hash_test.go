package core

import (
	"fmt"
	"math"
	"testing"
)

func TestBucketHashKnownValues(t *testing.T) {
	tests := []struct {
		input string
		want  uint64
	}{
		{input: "", want: 7183457195969485844},
		{input: "abc", want: 4213142463398924266},
		{input: "checkout.newFlow:user-42", want: 2931919031347189307},
		{input: "variant:checkout.newFlow:user-42", want: 1329969931398188760},
	}

	for _, test := range tests {
		if got := bucketHash(test.input); got != test.want {
			t.Fatalf("bucketHash(%q) = %d, want %d", test.input, got, test.want)
		}
	}
}

func TestBucketHashNeverSetsSignBit(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if got := bucketHash(fmt.Sprintf("key:%d", i)); got > math.MaxInt64 {
			t.Fatalf("bucketHash(key:%d) = %d, exceeds MaxInt64", i, got)
		}
	}
}

func TestWeightedSelectionDistribution(t *testing.T) {
	def := MustDefinition("exp.weights",
		WithVariant("a", 5),
		WithVariant("b", 3),
		WithVariant("c", 2),
	)

	const samples = 20000
	counts := map[string]int{}
	for i := 0; i < samples; i++ {
		evalContext := NewEvaluationContext(WithUserID(fmt.Sprintf("user-%d", i)))
		counts[pickVariant(def, "exp.weights", evalContext)]++
	}

	want := map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}
	for name, share := range want {
		got := float64(counts[name]) / samples
		if math.Abs(got-share) > 0.02 {
			t.Fatalf("variant %q share = %.4f, want %.2f ± 0.02 (counts %v)", name, got, share, counts)
		}
	}
}

func TestRolloutDistribution(t *testing.T) {
	const samples = 20000
	in := 0
	for i := 0; i < samples; i++ {
		if passesRollout(25, "exp.rollout", NewEvaluationContext(WithUserID(fmt.Sprintf("user-%d", i)))) {
			in++
		}
	}

	if got := float64(in) / samples; math.Abs(got-0.25) > 0.02 {
		t.Fatalf("rollout share = %.4f, want 0.25 ± 0.02", got)
	}
}
