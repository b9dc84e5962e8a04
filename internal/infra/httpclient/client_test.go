package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"provd/internal/domain"
)

func TestAppendEntrySendsAdminKey(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/log/entries" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("X-Admin-Key")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]int64{"log_index": 7})
	}))
	defer server.Close()

	client := New(server.URL, "secret")
	signedAt := time.Unix(1700000000, 0).UTC()
	index, err := client.AppendEntry(context.Background(), domain.LogEntry{
		PackageName:    "legitimate_pkg",
		ArtifactHash:   domain.HashArtifact([]byte("bytes")),
		SignerIdentity: "publisher@example.com",
		SigningTime:    signedAt,
		CertValidFrom:  signedAt.Add(-time.Minute),
		CertValidUntil: signedAt.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if index != 7 {
		t.Fatalf("index = %d", index)
	}
	if gotKey != "secret" {
		t.Fatalf("admin key = %q", gotKey)
	}
}

func TestFindByHashNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "NOT_FOUND", "message": "no entry"})
	}))
	defer server.Close()

	client := New(server.URL, "")
	_, err := client.FindByHash(context.Background(), domain.HashArtifact([]byte("missing")))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyDecodesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verify" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(domain.VerificationResult{
			Config:        domain.ModeDefense,
			Package:       "legitimate_pkg",
			Verdict:       domain.VerdictFailed,
			FailureReason: domain.ReasonRollbackDetected,
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	result, err := client.Verify(context.Background(), domain.VerificationCandidate{
		PackageName: "legitimate_pkg",
		Artifact:    []byte("bytes"),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.FailureReason != domain.ReasonRollbackDetected {
		t.Fatalf("reason = %s", result.FailureReason)
	}
}

func TestServerErrorSurfacesCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "STORE_UNAVAILABLE", "message": "backend down"})
	}))
	defer server.Close()

	client := New(server.URL, "")
	_, err := client.UploadStats(context.Background())
	if err == nil || !strings.Contains(err.Error(), "STORE_UNAVAILABLE") {
		t.Fatalf("error = %v", err)
	}
}
