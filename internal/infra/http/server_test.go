package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"provd/internal/config"
	"provd/internal/domain"
	"provd/internal/infra/logfile"
	"provd/internal/infra/policyfile"
	"provd/internal/usecase"
)

const testAdminKey = "test-admin-key"

var serverNow = time.Unix(1700000000, 0).UTC()

func serverClock() time.Time { return serverNow }

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(_ context.Context, _ string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{Allowed: false, Limit: limit, ResetAt: serverNow.Add(time.Minute)}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	logStore, err := logfile.NewWithClock(filepath.Join(dir, "log.json"), serverClock)
	if err != nil {
		t.Fatalf("log store: %v", err)
	}
	policyStore, err := policyfile.NewWithClock(filepath.Join(dir, "policies.json"), serverClock)
	if err != nil {
		t.Fatalf("policy store: %v", err)
	}
	if err := policyStore.AddPolicy(context.Background(), domain.Policy{
		Identity:           "publisher@example.com",
		AuthorizedPackages: []string{"legitimate_pkg"},
	}); err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	recorder := usecase.NewRecorder(serverClock)
	verify := &usecase.VerifyArtifact{
		Log:      logStore,
		Policies: policyStore,
		Mode:     domain.ModeDefense,
		Clock:    serverClock,
		Recorder: recorder,
	}
	upload := &usecase.AdmitUpload{
		Policies: policyStore,
		Mode:     domain.ModeDefense,
		Clock:    serverClock,
	}
	return NewServerWithDeps(config.Config{Mode: "defense"}, ServerDeps{
		Verify:      verify,
		Upload:      upload,
		Recorder:    recorder,
		Log:         logStore,
		Policies:    policyStore,
		AdminAPIKey: testAdminKey,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func appendTestEntry(t *testing.T, s *Server, pkg string, content []byte, signedAt time.Time) int64 {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/log/entries", appendEntryRequest{
		PackageName:    pkg,
		ArtifactBase64: base64.StdEncoding.EncodeToString(content),
		SignerIdentity: "publisher@example.com",
		SigningTime:    signedAt,
		CertValidFrom:  signedAt.Add(-time.Minute),
		CertValidUntil: signedAt.Add(10 * time.Minute),
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("append status %d: %s", w.Code, w.Body.String())
	}
	var resp appendEntryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode append response: %v", err)
	}
	return resp.LogIndex
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestAppendRequiresAdminKey(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/v1/log/entries", appendEntryRequest{
		PackageName: "pkg",
	}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}

func TestAppendAndQueryByHash(t *testing.T) {
	s := newTestServer(t)
	content := []byte("artifact content")

	if idx := appendTestEntry(t, s, "legitimate_pkg", content, serverNow.Add(-time.Hour)); idx != 0 {
		t.Fatalf("first index = %d", idx)
	}
	if idx := appendTestEntry(t, s, "legitimate_pkg", []byte("other"), serverNow.Add(-30*time.Minute)); idx != 1 {
		t.Fatalf("second index = %d", idx)
	}

	hash := domain.HashArtifact(content)
	w := doJSON(t, s, http.MethodGet, "/v1/log/entries?hash="+hash.String(), nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("query status %d: %s", w.Code, w.Body.String())
	}
	var entry domain.LogEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.LogIndex != 0 || entry.PackageName != "legitimate_pkg" {
		t.Fatalf("entry = %+v", entry)
	}

	missing := domain.HashArtifact([]byte("never logged"))
	w = doJSON(t, s, http.MethodGet, "/v1/log/entries?hash="+missing.String(), nil, false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing hash status %d", w.Code)
	}
}

func TestNewerEntriesQuery(t *testing.T) {
	s := newTestServer(t)
	base := serverNow.Add(-2 * time.Hour)
	appendTestEntry(t, s, "legitimate_pkg", []byte("old"), base)
	appendTestEntry(t, s, "legitimate_pkg", []byte("new"), base.Add(time.Hour))

	w := doJSON(t, s, http.MethodGet,
		"/v1/log/entries/newer?package=legitimate_pkg&signing_time="+base.Format(time.RFC3339), nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Entries []domain.LogEntry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 strictly newer entry, got %d", len(resp.Entries))
	}
}

func TestAuthzCheck(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/authz/check", authzCheckRequest{
		Identity: "publisher@example.com",
		Package:  "legitimate_pkg_1.tar.gz",
	}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp authzCheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Authorized {
		t.Fatalf("expected authorized")
	}

	w = doJSON(t, s, http.MethodPost, "/v1/authz/check", authzCheckRequest{
		Identity: "attacker@malicious.com",
		Package:  "legitimate_pkg",
	}, false)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Authorized {
		t.Fatalf("unknown identity authorized")
	}
}

func TestPolicyAddAndRevoke(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/policies", policyRequest{
		Identity:           "new@example.com",
		AuthorizedPackages: []string{"newpkg"},
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("add status %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/v1/policies/revoke", revokeGrantRequest{
		Identity: "new@example.com",
		Package:  "newpkg",
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status %d: %s", w.Code, w.Body.String())
	}

	var check authzCheckResponse
	w = doJSON(t, s, http.MethodPost, "/v1/authz/check", authzCheckRequest{
		Identity: "new@example.com",
		Package:  "newpkg",
	}, false)
	if err := json.Unmarshal(w.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if check.Authorized {
		t.Fatalf("revoked grant still authorized")
	}

	w = doJSON(t, s, http.MethodPost, "/v1/policies", policyRequest{Identity: "x@example.com"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated add status %d", w.Code)
	}
}

func TestVerifyEndToEnd(t *testing.T) {
	s := newTestServer(t)
	content := []byte("legitimate bytes")
	signedAt := serverNow.Add(-time.Second)
	appendTestEntry(t, s, "legitimate_pkg", content, signedAt)

	w := doJSON(t, s, http.MethodPost, "/v1/verify", verifyRequest{
		Package:        "legitimate_pkg",
		ArtifactBase64: base64.StdEncoding.EncodeToString(content),
		Signature: &signatureInput{
			Valid:          true,
			SignerIdentity: "publisher@example.com",
			SigningTime:    signedAt,
			CertValidFrom:  signedAt.Add(-time.Minute),
			CertValidUntil: signedAt.Add(10 * time.Minute),
		},
	}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("verify status %d: %s", w.Code, w.Body.String())
	}
	var result domain.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Verdict != domain.VerdictPassed {
		t.Fatalf("verdict = %s, reason %s (%s)", result.Verdict, result.FailureReason, result.FailureDetail)
	}

	// The run is recorded.
	w = doJSON(t, s, http.MethodGet, "/v1/results", nil, false)
	var recorded struct {
		Results []domain.RecordedResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &recorded); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(recorded.Results) != 1 {
		t.Fatalf("expected 1 recorded result, got %d", len(recorded.Results))
	}
}

func TestVerifyDetectsRollback(t *testing.T) {
	s := newTestServer(t)
	content := []byte("old version")
	signedAt := serverNow.Add(-2 * time.Hour)
	appendTestEntry(t, s, "legitimate_pkg", content, signedAt)
	appendTestEntry(t, s, "legitimate_pkg", []byte("new version"), signedAt.Add(time.Hour))

	w := doJSON(t, s, http.MethodPost, "/v1/verify", verifyRequest{
		Package:        "legitimate_pkg",
		ArtifactBase64: base64.StdEncoding.EncodeToString(content),
		Signature: &signatureInput{
			Valid:          true,
			SignerIdentity: "publisher@example.com",
			SigningTime:    signedAt,
			CertValidFrom:  signedAt.Add(-time.Minute),
			CertValidUntil: signedAt.Add(10 * time.Minute),
		},
	}, false)
	var result domain.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.FailureReason != domain.ReasonRollbackDetected {
		t.Fatalf("reason = %s", result.FailureReason)
	}
}

func TestUploadAndStats(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/uploads", uploadRequest{
		Package:           "legitimate_pkg",
		Signer:            "publisher@example.com",
		ArtifactBase64:    base64.StdEncoding.EncodeToString([]byte("bytes")),
		SignatureDocument: "Signer: publisher@example.com\nSigned: 1700000000\n",
	}, false)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", w.Code, w.Body.String())
	}
	var decision domain.UploadDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.Decision != domain.AdmissionAccepted {
		t.Fatalf("decision = %s (%s)", decision.Decision, decision.Reason)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/uploads", uploadRequest{
		Package:           "legitimate_pkg",
		Signer:            "attacker@malicious.com",
		ArtifactBase64:    base64.StdEncoding.EncodeToString([]byte("bytes")),
		SignatureDocument: "FAKE_SIGNATURE",
	}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("rejected upload status %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/uploads/stats", nil, false)
	var stats domain.UploadStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Accepted != 1 || stats.Rejected != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRateLimitDenial(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)
	s.rateLimiter = denyAllLimiter{}
	s.rateLimitRequests = 1
	s.rateLimitWindow = time.Minute

	w := doJSON(t, s, http.MethodGet, "/v1/policies", nil, false)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", w.Code)
	}
	if w.Header().Get("RateLimit-Limit") != "1" {
		t.Fatalf("RateLimit-Limit = %q", w.Header().Get("RateLimit-Limit"))
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}
