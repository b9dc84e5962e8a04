// Package httpclient is a typed client for a remote provd service, used
// by the CLI when PROVD_URL points at a running instance.
package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"provd/internal/domain"
)

type Client struct {
	addr       string
	adminKey   string
	httpClient *http.Client
}

func New(addr, adminKey string) *Client {
	return &Client{
		addr:       strings.TrimRight(addr, "/"),
		adminKey:   adminKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type appendEntryRequest struct {
	PackageName    string    `json:"package_name"`
	ArtifactHash   string    `json:"artifact_hash,omitempty"`
	ArtifactBase64 string    `json:"artifact_base64,omitempty"`
	SignerIdentity string    `json:"signer_identity"`
	SigningTime    time.Time `json:"signing_time"`
	CertValidFrom  time.Time `json:"cert_valid_from"`
	CertValidUntil time.Time `json:"cert_valid_until"`
}

type verifyRequest struct {
	Package          string            `json:"package"`
	ExpectedIdentity string            `json:"expected_identity,omitempty"`
	ArtifactBase64   string            `json:"artifact_base64"`
	Signature        *domain.Signature `json:"signature,omitempty"`
}

type uploadRequest struct {
	Package           string            `json:"package"`
	Signer            string            `json:"signer,omitempty"`
	ArtifactBase64    string            `json:"artifact_base64"`
	SignatureDocument string            `json:"signature_document,omitempty"`
	Signature         *domain.Signature `json:"signature,omitempty"`
}

func (c *Client) AppendEntry(ctx context.Context, entry domain.LogEntry) (int64, error) {
	req := appendEntryRequest{
		PackageName:    entry.PackageName,
		ArtifactHash:   entry.ArtifactHash.String(),
		SignerIdentity: entry.SignerIdentity,
		SigningTime:    entry.SigningTime,
		CertValidFrom:  entry.CertValidFrom,
		CertValidUntil: entry.CertValidUntil,
	}
	var resp struct {
		LogIndex int64 `json:"log_index"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/log/entries", req, &resp, true); err != nil {
		return 0, err
	}
	return resp.LogIndex, nil
}

func (c *Client) FindByHash(ctx context.Context, hash digest.Digest) (*domain.LogEntry, error) {
	var entry domain.LogEntry
	err := c.do(ctx, http.MethodGet, "/v1/log/entries?hash="+hash.String(), nil, &entry, false)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) FindByPackage(ctx context.Context, packageName string) ([]domain.LogEntry, error) {
	var resp struct {
		Entries []domain.LogEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/log/entries?package="+packageName, nil, &resp, false)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) FindByIdentity(ctx context.Context, identity string) ([]domain.LogEntry, error) {
	var resp struct {
		Entries []domain.LogEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/log/entries?identity="+identity, nil, &resp, false)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) Verify(ctx context.Context, cand domain.VerificationCandidate) (domain.VerificationResult, error) {
	req := verifyRequest{
		Package:          cand.PackageName,
		ExpectedIdentity: cand.ExpectedIdentity,
		ArtifactBase64:   base64.StdEncoding.EncodeToString(cand.Artifact),
		Signature:        cand.Signature,
	}
	var result domain.VerificationResult
	if err := c.do(ctx, http.MethodPost, "/v1/verify", req, &result, false); err != nil {
		return domain.VerificationResult{}, err
	}
	return result, nil
}

func (c *Client) Upload(ctx context.Context, cand domain.UploadCandidate) (domain.UploadDecision, error) {
	req := uploadRequest{
		Package:           cand.PackageName,
		Signer:            cand.Signer,
		ArtifactBase64:    base64.StdEncoding.EncodeToString(cand.Artifact),
		SignatureDocument: string(cand.SignatureBlob),
		Signature:         cand.Signature,
	}
	var decision domain.UploadDecision
	if err := c.do(ctx, http.MethodPost, "/v1/uploads", req, &decision, false); err != nil {
		return domain.UploadDecision{}, err
	}
	return decision, nil
}

func (c *Client) UploadStats(ctx context.Context) (domain.UploadStats, error) {
	var stats domain.UploadStats
	if err := c.do(ctx, http.MethodGet, "/v1/uploads/stats", nil, &stats, false); err != nil {
		return domain.UploadStats{}, err
	}
	return stats, nil
}

func (c *Client) AddPolicy(ctx context.Context, policy domain.Policy) error {
	return c.do(ctx, http.MethodPost, "/v1/policies", policy, nil, true)
}

func (c *Client) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	var resp struct {
		Policies []domain.Policy `json:"policies"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/policies", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Policies, nil
}

func (c *Client) RevokeGrant(ctx context.Context, identity, packageName string) error {
	req := map[string]string{"identity": identity, "package": packageName}
	return c.do(ctx, http.MethodPost, "/v1/policies/revoke", req, nil, true)
}

func (c *Client) CheckAuthorization(ctx context.Context, identity, packageName string) (bool, error) {
	req := map[string]string{"identity": identity, "package": packageName}
	var resp struct {
		Authorized bool `json:"authorized"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/authz/check", req, &resp, false); err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, admin bool) error {
	if c == nil {
		return errors.New("provd client is nil")
	}
	if c.addr == "" {
		return errors.New("provd addr is required")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Key", c.adminKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return domain.ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &failure) == nil && failure.Code != "" {
			return fmt.Errorf("provd: %s: %s", failure.Code, failure.Message)
		}
		return fmt.Errorf("provd: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
