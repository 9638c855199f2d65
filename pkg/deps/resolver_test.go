package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	ids := []string{"a", "b", "c"}

	tests := []struct {
		name  string
		deps  map[string][]string
		kinds []ProblemKind
	}{
		{
			name: "clean graph",
			deps: map[string][]string{"b": {"a"}, "c": {"b"}},
		},
		{
			name:  "unknown key",
			deps:  map[string][]string{"x": {"a"}},
			kinds: []ProblemKind{ProblemUnknownKey},
		},
		{
			name:  "unknown value",
			deps:  map[string][]string{"b": {"zzz"}},
			kinds: []ProblemKind{ProblemUnknownValue},
		},
		{
			name:  "self loop",
			deps:  map[string][]string{"a": {"a"}},
			kinds: []ProblemKind{ProblemSelfLoop},
		},
		{
			name:  "multiple defects",
			deps:  map[string][]string{"a": {"a"}, "x": {"nope"}},
			kinds: []ProblemKind{ProblemSelfLoop, ProblemUnknownKey, ProblemUnknownValue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := Validate(tt.deps, ids)
			require.Len(t, problems, len(tt.kinds))
			got := map[ProblemKind]bool{}
			for _, p := range problems {
				got[p.Kind] = true
			}
			for _, k := range tt.kinds {
				assert.True(t, got[k], "expected problem kind %s", k)
			}
		})
	}
}

func TestDetectCycles(t *testing.T) {
	assert.Empty(t, DetectCycles(map[string][]string{"b": {"a"}, "c": {"b"}}))

	cycles := DetectCycles(map[string][]string{"a": {"b"}, "b": {"a"}})
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, cycles[0])

	// Disconnected components: one clean chain, one three-node cycle.
	cycles = DetectCycles(map[string][]string{
		"x": {"y"},
		"a": {"b"}, "b": {"c"}, "c": {"a"},
	})
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0], 3)
}

func TestOrderLinearChain(t *testing.T) {
	order, err := Order(map[string][]string{"b": {"a"}, "c": {"b"}}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestOrderDeterministicTieBreak(t *testing.T) {
	// b and c are both ready after a; lexicographic order wins.
	deps := map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b", "c"}}
	ids := []string{"d", "c", "b", "a"}

	first, err := Order(deps, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, first)

	for i := 0; i < 10; i++ {
		again, err := Order(deps, ids)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestOrderIsPermutationRespectingPrereqs(t *testing.T) {
	deps := map[string][]string{
		"deploy":  {"build", "test"},
		"test":    {"build"},
		"build":   {"fetch"},
		"docs":    {"fetch"},
		"release": {"deploy", "docs"},
	}
	ids := []string{"fetch", "build", "test", "deploy", "docs", "release"}

	order, err := Order(deps, ids)
	require.NoError(t, err)
	require.Len(t, order, len(ids))

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for node, prereqs := range deps {
		for _, p := range prereqs {
			assert.Less(t, pos[p], pos[node], "%s must precede %s", p, node)
		}
	}
}

func TestOrderErrors(t *testing.T) {
	_, err := Order(map[string][]string{"a": {"b"}, "b": {"a"}}, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrCycleDetected)

	_, err = Order(map[string][]string{"a": {"missing"}}, []string{"a"})
	assert.ErrorIs(t, err, ErrInvalidDeps)
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	deps := map[string][]string{"b": {"a"}}
	_, err := Order(deps, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"b": {"a"}}, deps)
}

func TestOrderEmptyGraph(t *testing.T) {
	order, err := Order(nil, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}
