package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PETMOOD_TEST_VAR", "test_value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set", input: "value: ${PETMOOD_TEST_VAR}", want: "value: test_value"},
		{name: "unset keeps reference", input: "value: ${PETMOOD_UNSET_VAR}", want: "value: ${PETMOOD_UNSET_VAR}"},
		{name: "fallback", input: "value: ${PETMOOD_UNSET_VAR:-fallback}", want: "value: fallback"},
		{name: "empty fallback", input: "value: '${PETMOOD_UNSET_VAR:-}'", want: "value: ''"},
		{name: "set ignores fallback", input: "value: ${PETMOOD_TEST_VAR:-other}", want: "value: test_value"},
		{name: "no vars", input: "value: plain_text", want: "value: plain_text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(substituteEnvVars([]byte(tt.input)))
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSubstituteEnvVarsMultiple(t *testing.T) {
	t.Setenv("PETMOOD_VAR1", "value1")
	t.Setenv("PETMOOD_VAR2", "value2")

	input := []byte("first: ${PETMOOD_VAR1}\nsecond: ${PETMOOD_VAR2}")
	expected := "first: value1\nsecond: value2"

	if got := string(substituteEnvVars(input)); got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	t.Setenv("PETMOOD_BACKEND_URL", "http://backend:9000")
	t.Setenv("PETMOOD_PASSWORD", "secret")

	content := `
backend:
  url: "${PETMOOD_BACKEND_URL}"
auth:
  enabled: true
  user: "${PETMOOD_USER:-admin}"
  password: "${PETMOOD_PASSWORD}"
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Backend.URL != "http://backend:9000" {
		t.Errorf("expected substituted backend url, got %s", cfg.Backend.URL)
	}
	if cfg.Auth.User != "admin" || cfg.Auth.Password != "secret" {
		t.Errorf("unexpected auth: %+v", cfg.Auth)
	}
}
