package http

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opencontainers/go-digest"

	"provd/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
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

type appendEntryResponse struct {
	LogIndex int64 `json:"log_index"`
}

type policyRequest struct {
	Identity           string     `json:"identity"`
	AuthorizedPackages []string   `json:"authorized_packages"`
	Description        string     `json:"description,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

type authzCheckRequest struct {
	Identity string `json:"identity"`
	Package  string `json:"package"`
}

type authzCheckResponse struct {
	Identity   string `json:"identity"`
	Package    string `json:"package"`
	Authorized bool   `json:"authorized"`
}

type revokeGrantRequest struct {
	Identity string `json:"identity"`
	Package  string `json:"package"`
}

type signatureInput struct {
	Valid          bool      `json:"valid"`
	Diagnostic     string    `json:"diagnostic,omitempty"`
	SignerIdentity string    `json:"signer_identity"`
	SigningTime    time.Time `json:"signing_time"`
	CertValidFrom  time.Time `json:"cert_valid_from"`
	CertValidUntil time.Time `json:"cert_valid_until"`
}

type verifyRequest struct {
	Package          string          `json:"package"`
	ExpectedIdentity string          `json:"expected_identity,omitempty"`
	ArtifactBase64   string          `json:"artifact_base64"`
	Signature        *signatureInput `json:"signature,omitempty"`
}

type uploadRequest struct {
	Package           string          `json:"package"`
	Signer            string          `json:"signer,omitempty"`
	ArtifactBase64    string          `json:"artifact_base64"`
	SignatureDocument string          `json:"signature_document,omitempty"`
	Signature         *signatureInput `json:"signature,omitempty"`
}

func (s *Server) handleAppendEntry(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req appendEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	hash, err := resolveHash(req)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	entry := domain.LogEntry{
		PackageName:    req.PackageName,
		ArtifactHash:   hash,
		SignerIdentity: req.SignerIdentity,
		SigningTime:    req.SigningTime,
		CertValidFrom:  req.CertValidFrom,
		CertValidUntil: req.CertValidUntil,
	}
	index, err := s.log.Append(c.Request.Context(), entry)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, appendEntryResponse{LogIndex: index})
}

// resolveHash accepts either the digest itself or the artifact bytes;
// publishers close to the registry send bytes, mirrors send digests.
func resolveHash(req appendEntryRequest) (digest.Digest, error) {
	if req.ArtifactHash != "" {
		hash := digest.Digest(req.ArtifactHash)
		if err := hash.Validate(); err != nil {
			return "", err
		}
		return hash, nil
	}
	if req.ArtifactBase64 == "" {
		return "", errors.New("artifact_hash or artifact_base64 is required")
	}
	content, err := base64.StdEncoding.DecodeString(req.ArtifactBase64)
	if err != nil {
		return "", err
	}
	return domain.HashArtifact(content), nil
}

func (s *Server) handleQueryEntries(c *gin.Context) {
	ctx := c.Request.Context()
	switch {
	case c.Query("hash") != "":
		hash := digest.Digest(c.Query("hash"))
		if err := hash.Validate(); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		entry, err := s.log.FindByHash(ctx, hash)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	case c.Query("identity") != "":
		entries, err := s.log.FindByIdentity(ctx, c.Query("identity"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	case c.Query("package") != "":
		entries, err := s.log.FindByPackage(ctx, c.Query("package"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	default:
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "hash, identity or package query is required")
	}
}

func (s *Server) handleNewerEntries(c *gin.Context) {
	packageName := c.Query("package")
	if packageName == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "package query is required")
		return
	}
	signingTime, err := time.Parse(time.RFC3339, c.Query("signing_time"))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "signing_time must be RFC3339")
		return
	}
	entries, err := s.log.FindNewerThan(c.Request.Context(), packageName, signingTime)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleListPolicies(c *gin.Context) {
	policies, err := s.policies.ListPolicies(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

func (s *Server) handleAddPolicy(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	policy := domain.Policy{
		Identity:           req.Identity,
		AuthorizedPackages: req.AuthorizedPackages,
		Description:        req.Description,
		ExpiresAt:          req.ExpiresAt,
	}
	if err := s.policies.AddPolicy(c.Request.Context(), policy); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, policy)
}

func (s *Server) handleRevokeGrant(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req revokeGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Identity == "" || req.Package == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "identity and package are required")
		return
	}
	if err := s.policies.RevokeGrant(c.Request.Context(), req.Identity, req.Package); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": req.Identity, "package": req.Package, "revoked": true})
}

func (s *Server) handleAuthzCheck(c *gin.Context) {
	var req authzCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Identity == "" || req.Package == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "identity and package are required")
		return
	}
	authorized, err := s.policies.IsAuthorized(c.Request.Context(), req.Identity, req.Package)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, authzCheckResponse{
		Identity:   req.Identity,
		Package:    req.Package,
		Authorized: authorized,
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	cand := domain.VerificationCandidate{
		PackageName:      req.Package,
		ExpectedIdentity: req.ExpectedIdentity,
		Signature:        toSignature(req.Signature),
	}
	if req.ArtifactBase64 != "" {
		content, err := base64.StdEncoding.DecodeString(req.ArtifactBase64)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "artifact_base64 is not valid base64")
			return
		}
		cand.Artifact = content
	}
	result, err := s.verifyUC.Execute(c.Request.Context(), cand)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleUpload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	cand := domain.UploadCandidate{
		PackageName: req.Package,
		Signer:      req.Signer,
		Signature:   toSignature(req.Signature),
	}
	if req.ArtifactBase64 != "" {
		content, err := base64.StdEncoding.DecodeString(req.ArtifactBase64)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "artifact_base64 is not valid base64")
			return
		}
		cand.Artifact = content
	}
	if req.SignatureDocument != "" {
		cand.SignatureBlob = []byte(req.SignatureDocument)
	}
	decision, err := s.uploadUC.Execute(c.Request.Context(), cand)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if decision.Decision == domain.AdmissionAccepted {
		status = http.StatusCreated
	}
	c.JSON(status, decision)
}

func (s *Server) handleUploadStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.uploadUC.Stats())
}

func (s *Server) handleResults(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusOK, gin.H{"results": []domain.RecordedResult{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": s.recorder.List()})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

func toSignature(input *signatureInput) *domain.Signature {
	if input == nil {
		return nil
	}
	return &domain.Signature{
		Valid:          input.Valid,
		Diagnostic:     input.Diagnostic,
		SignerIdentity: input.SignerIdentity,
		SigningTime:    input.SigningTime,
		CertValidFrom:  input.CertValidFrom,
		CertValidUntil: input.CertValidUntil,
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidEntry):
		status, code = http.StatusBadRequest, "INVALID_ENTRY"
	case errors.Is(err, domain.ErrInvalidPolicy):
		status, code = http.StatusBadRequest, "INVALID_POLICY"
	case errors.Is(err, domain.ErrMissingArtifact):
		status, code = http.StatusBadRequest, "ARTIFACT_MISSING"
	case errors.Is(err, domain.ErrMissingSignature):
		status, code = http.StatusBadRequest, "SIGNATURE_MISSING"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
