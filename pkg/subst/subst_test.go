package subst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	env := map[string]string{
		"HOST":    "example.com",
		"API_KEY": "secret123",
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single placeholder", "https://{HOST}/api", "https://example.com/api"},
		{"multiple placeholders", "{HOST}:{API_KEY}", "example.com:secret123"},
		{"missing key stays literal", "token {MISSING}", "token {MISSING}"},
		{"no placeholders", "plain text", "plain text"},
		{"empty string", "", ""},
		{"adjacent placeholders", "{HOST}{HOST}", "example.comexample.com"},
		{"malformed braces ignored", "{lower-case} {123}", "{lower-case} {123}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Substitute(tt.input, env))
		})
	}
}

func TestSubstituteIdempotent(t *testing.T) {
	env := map[string]string{"A": "value-a"}

	inputs := []string{
		"{A} and {B}",
		"nothing here",
		"{A}{A}{B}{B}",
	}
	for _, input := range inputs {
		once := Substitute(input, env)
		twice := Substitute(once, env)
		assert.Equal(t, once, twice, "substitution must be idempotent for %q", input)
	}
}

func TestResolveEnvCrossReference(t *testing.T) {
	declared := map[string]string{
		"A": "{B}",
		"B": "x",
	}
	resolved := ResolveEnv(declared, nil)

	assert.Equal(t, "x", resolved["A"])
	assert.Equal(t, "x", resolved["B"])
}

func TestResolveEnvExternalReference(t *testing.T) {
	declared := map[string]string{
		"TOKEN":  "Bearer {API_KEY}",
		"HEADER": "X-Auth: {TOKEN}",
	}
	external := map[string]string{"API_KEY": "abc"}

	resolved := ResolveEnv(declared, external)

	require.Equal(t, "Bearer abc", resolved["TOKEN"])
	assert.Equal(t, "X-Auth: Bearer abc", resolved["HEADER"])
}

func TestResolveEnvCycleStopsAtCap(t *testing.T) {
	declared := map[string]string{
		"A": "{B}",
		"B": "{A}",
	}

	// A cycle never reaches a fixed point; the iteration cap must stop it and
	// leave placeholders literal.
	resolved := ResolveEnv(declared, nil)
	assert.Contains(t, []string{"{A}", "{B}"}, resolved["A"])
	assert.Contains(t, []string{"{A}", "{B}"}, resolved["B"])
}

func TestSubstituteSliceAndMap(t *testing.T) {
	env := map[string]string{"DIR": "/tmp/work"}

	args := SubstituteSlice([]string{"--root", "{DIR}", "{MISSING}"}, env)
	assert.Equal(t, []string{"--root", "/tmp/work", "{MISSING}"}, args)

	headers := SubstituteMap(map[string]string{"X-Dir": "{DIR}"}, env)
	assert.Equal(t, "/tmp/work", headers["X-Dir"])
}

func TestMergedEnvDeclaredWins(t *testing.T) {
	merged := MergedEnv(
		map[string]string{"KEY": "declared"},
		map[string]string{"KEY": "external", "OTHER": "kept"},
	)
	assert.Equal(t, "declared", merged["KEY"])
	assert.Equal(t, "kept", merged["OTHER"])
}
