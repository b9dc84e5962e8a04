package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"provd/internal/domain"
)

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t)
	input := baseAdmissionInput()

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic admission evaluation")
	}
	if !first.Result.Allow {
		t.Fatalf("expected allow for clean input, deny: %+v", first.Result.Deny)
	}
	if len(first.Result.Deny) != 0 {
		t.Fatalf("expected empty deny list")
	}
	if first.BundleHash == "" {
		t.Fatalf("expected bundle hash to be set")
	}
}

func TestEngineDenies(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name   string
		mutate func(input *domain.AdmissionInput)
		want   []string
	}{
		{
			name: "artifact missing",
			mutate: func(input *domain.AdmissionInput) {
				input.Checks[domain.CheckArtifactExists] = false
			},
			want: []string{"ARTIFACT_MISSING"},
		},
		{
			name: "signer not authorized",
			mutate: func(input *domain.AdmissionInput) {
				input.Checks[domain.CheckAuthorized] = false
			},
			want: []string{"SIGNER_NOT_AUTHORIZED"},
		},
		{
			name: "signature integrity",
			mutate: func(input *domain.AdmissionInput) {
				input.Checks[domain.CheckSignatureOK] = false
			},
			want: []string{"SIGNATURE_INTEGRITY"},
		},
		{
			name: "log rejection only matters in defense",
			mutate: func(input *domain.AdmissionInput) {
				input.Config = domain.ModeDefense
				input.Checks[domain.CheckLogAccepted] = false
			},
			want: []string{"LOG_NOT_ACCEPTED"},
		},
		{
			name: "multiple failures sorted",
			mutate: func(input *domain.AdmissionInput) {
				input.Checks[domain.CheckHasSignature] = false
				input.Checks[domain.CheckSignatureOK] = false
			},
			want: []string{"SIGNATURE_INTEGRITY", "SIGNATURE_MISSING"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			input := baseAdmissionInput()
			tt.mutate(&input)
			out, err := engine.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if out.Result.Allow {
				t.Fatalf("expected deny")
			}
			got := make([]string, 0, len(out.Result.Deny))
			for _, item := range out.Result.Deny {
				got = append(got, item.Code)
			}
			if !reflect.DeepEqual(tt.want, got) {
				t.Fatalf("deny codes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBaselineIgnoresLogAcceptance(t *testing.T) {
	engine := newEngine(t)
	input := baseAdmissionInput()
	input.Config = domain.ModeBaseline
	input.Checks[domain.CheckLogAccepted] = false

	out, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !out.Result.Allow {
		t.Fatalf("baseline config must not require log acceptance, deny: %+v", out.Result.Deny)
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, "http.send({\"method\": \"get\", \"url\": \"https://example.com\"})")
}

func TestEngineRejectsRand(t *testing.T) {
	rejectBuiltin(t, "rand.intn(10)")
}

func TestEngineRejectsCodecBuiltins(t *testing.T) {
	rejectBuiltin(t, "json.unmarshal(\"{}\")")
	rejectBuiltin(t, "urlquery.decode(\"a%20b\")")
}

func TestEngineRejectsNumericBuiltins(t *testing.T) {
	rejectBuiltin(t, "pow(2, 10)")
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package provd.admission
result := {"allow": true, "deny": []} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}

	_, err := NewEngineFromBundlePath(context.Background(), dir, "test")
	if err == nil {
		t.Fatalf("expected builtin to be rejected")
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join("..", "..", "..", "policy", "bundles", "registry_v0")
	engine, err := NewEngineFromBundlePath(context.Background(), path, "registry_v0")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func baseAdmissionInput() domain.AdmissionInput {
	return domain.AdmissionInput{
		Package: "legitimate_pkg",
		Signer:  "publisher@example.com",
		Config:  domain.ModeDefense,
		Checks: map[string]bool{
			domain.CheckArtifactExists: true,
			domain.CheckHasSignature:   true,
			domain.CheckAuthorized:     true,
			domain.CheckSignatureOK:    true,
			domain.CheckLogAccepted:    true,
		},
	}
}
