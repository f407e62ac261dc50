package config

import (
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("PL_SET", "hello")
	t.Setenv("PL_EMPTY", "")
	t.Setenv("PL_A", "alice")
	t.Setenv("PL_B", "bob")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set var", "value: ${PL_SET}", "value: hello"},
		{"unset var", "value: ${PL_UNSET_12345}", "value: "},
		{"default when unset", "value: ${PL_UNSET_12345:-fallback}", "value: fallback"},
		{"default ignored when set", "value: ${PL_SET:-fallback}", "value: hello"},
		{"default when empty", "value: ${PL_EMPTY:-fallback}", "value: fallback"},
		{"multiple vars", "${PL_A}:${PL_B}", "alice:bob"},
		{"no vars", "no variables here", "no variables here"},
		{"bare dollar untouched", "cost: $5", "cost: $5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "secret")

	input := `adapter:
  headers:
    Authorization: Bearer ${HOOK_TOKEN}`
	want := `adapter:
  headers:
    Authorization: Bearer secret`

	if got := ExpandEnv(input); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
