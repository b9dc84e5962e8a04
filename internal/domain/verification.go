package domain

import (
	"encoding/json"
	"time"
)

// Mode selects which verification configuration a pipeline runs under.
type Mode string

const (
	// ModeBaseline checks signature validity only. It models a consumer
	// with no supply-chain hardening and is the comparison point for
	// measuring what ModeDefense adds.
	ModeBaseline Mode = "baseline"

	// ModeDefense runs the full provenance pipeline: signature, identity
	// authorization, transparency-log inclusion, certificate timing, and
	// rollback detection.
	ModeDefense Mode = "defense"
)

// Verdict is the final outcome of one verification run.
type Verdict string

const (
	VerdictPassed Verdict = "PASSED"
	VerdictFailed Verdict = "FAILED"
)

// FailureReason classifies the first failed pipeline step.
type FailureReason string

const (
	ReasonNone                  FailureReason = "none"
	ReasonMissingArtifact       FailureReason = "artifact_missing"
	ReasonMissingSignature      FailureReason = "signature_missing"
	ReasonSignatureInvalid      FailureReason = "signature_invalid"
	ReasonIdentityNotAuthorized FailureReason = "identity_not_authorized"
	ReasonIdentityMismatch      FailureReason = "identity_mismatch"
	ReasonNotInTransparencyLog  FailureReason = "not_in_transparency_log_or_hash_mismatch"
	ReasonTimestampInvalid      FailureReason = "signing_time_outside_cert_validity"
	ReasonCertExpiredSuspicious FailureReason = "certificate_expired_suspicious_timing"
	ReasonRollbackDetected      FailureReason = "rollback_detected"
)

// StepStatus is the outcome of one pipeline step. Steps a configuration
// never runs report StepSkipped, which serializes as "N/A".
type StepStatus string

const (
	StepPassed  StepStatus = "true"
	StepFailed  StepStatus = "false"
	StepSkipped StepStatus = "N/A"
)

func (s StepStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case StepPassed:
		return []byte("true"), nil
	case StepFailed:
		return []byte("false"), nil
	default:
		return json.Marshal(string(StepSkipped))
	}
}

func (s *StepStatus) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*s = StepPassed
	case "false":
		*s = StepFailed
	default:
		*s = StepSkipped
	}
	return nil
}

// Signature carries the externally produced signature signal: whether the
// cryptographic check bound the signature to the artifact, plus the
// structured metadata extracted from the signature document. The engine
// never parses signature blobs itself.
type Signature struct {
	Valid          bool      `json:"valid"`
	Diagnostic     string    `json:"diagnostic,omitempty"`
	SignerIdentity string    `json:"signer_identity"`
	SigningTime    time.Time `json:"signing_time"`
	CertValidFrom  time.Time `json:"cert_valid_from"`
	CertValidUntil time.Time `json:"cert_valid_until"`
}

// VerificationCandidate is the input to one pipeline run. It is ephemeral
// and never persisted.
type VerificationCandidate struct {
	PackageName string

	// ExpectedIdentity, when non-empty, must equal the signer identity
	// extracted from the signature. Empty skips the equality check but
	// not the policy authorization check.
	ExpectedIdentity string

	// Artifact is the exact content being installed; the pipeline hashes
	// it for the transparency-log lookup. Nil means no artifact reference
	// was supplied.
	Artifact []byte

	// Signature is the pre-verified signature signal. Nil means no
	// signature reference was supplied.
	Signature *Signature
}

// VerificationResult is the flat decision record consumed by external
// reporting. Produced fresh per run; never mutated afterward.
type VerificationResult struct {
	Config            Mode          `json:"config"`
	Package           string        `json:"package"`
	Verdict           Verdict       `json:"verification_result"`
	SignatureValid    StepStatus    `json:"signature_valid"`
	IdentityVerified  StepStatus    `json:"identity_verified"`
	InTransparencyLog StepStatus    `json:"in_transparency_log"`
	TimestampValid    StepStatus    `json:"timestamp_valid"`
	LatencyMillis     float64       `json:"verification_latency_ms"`
	FailureReason     FailureReason `json:"failure_reason"`

	// FailureDetail is the operator-facing message for the failed step,
	// e.g. the newer-version count on a rollback.
	FailureDetail string `json:"failure_detail,omitempty"`
}
