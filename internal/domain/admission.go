package domain

import "time"

// AdmissionVerdict is the publish-gate outcome.
type AdmissionVerdict string

const (
	AdmissionAccepted AdmissionVerdict = "ACCEPTED"
	AdmissionRejected AdmissionVerdict = "REJECTED"
)

// Names of the individual publish-gate checks, as they appear in
// UploadDecision.Checks.
const (
	CheckArtifactExists = "artifact_exists"
	CheckBasicIntegrity = "basic_integrity"
	CheckHasSignature   = "has_signature"
	CheckAuthorized     = "policy_authorized"
	CheckSignatureOK    = "signature_integrity"
	CheckLogAccepted    = "log_accepted"
	CheckBundleAllowed  = "bundle_allowed"
)

// UploadCandidate is the input to one publish-gate run.
type UploadCandidate struct {
	PackageName string

	// Signer is the identity the uploader claims; when empty the gate
	// falls back to the identity extracted from the signature metadata.
	Signer string

	Artifact []byte

	// SignatureBlob is the raw signature document as uploaded; the gate's
	// integrity heuristic runs over it.
	SignatureBlob []byte

	// Signature is the parsed metadata, shared with the install-time
	// pipeline's extraction so the two gates cannot disagree on identity.
	Signature *Signature
}

// UploadDecision records one publish-gate run.
type UploadDecision struct {
	Package    string           `json:"package"`
	Signer     string           `json:"signer,omitempty"`
	Config     Mode             `json:"config"`
	UploadTime time.Time        `json:"upload_time"`
	Checks     map[string]bool  `json:"checks"`
	Decision   AdmissionVerdict `json:"decision"`
	Reason     string           `json:"reason"`
	LogReceipt string           `json:"log_receipt,omitempty"`
}

// UploadStats summarizes a gate's accept/reject history.
type UploadStats struct {
	Total          int     `json:"total"`
	Accepted       int     `json:"accepted"`
	Rejected       int     `json:"rejected"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	RejectionRate  float64 `json:"rejection_rate"`
}

// AdmissionInput is the document handed to an admission policy bundle.
type AdmissionInput struct {
	Package string          `json:"package"`
	Signer  string          `json:"signer"`
	Config  Mode            `json:"config"`
	Checks  map[string]bool `json:"checks"`
}

type AdmissionDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type AdmissionResult struct {
	Allow bool            `json:"allow"`
	Deny  []AdmissionDeny `json:"deny,omitempty"`
}

type AdmissionEvaluation struct {
	BundleID   string          `json:"bundle_id,omitempty"`
	BundleHash string          `json:"bundle_hash"`
	Result     AdmissionResult `json:"result"`
}
