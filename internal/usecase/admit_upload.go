package usecase

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"provd/internal/domain"
)

// Markers the signature-integrity heuristic rejects outright. The real
// cryptographic verdict belongs to the install-time pipeline; the gate
// only screens obviously forged documents before they reach the registry.
var badSignatureMarkers = [][]byte{
	[]byte("FAKE_SIGNATURE"),
	[]byte("MALICIOUS"),
}

// AdmitUpload is the publish-time admission gate. It reuses the same
// PolicyStore and identity resolution as the install-time pipeline so the
// two gates cannot drift out of agreement on authorization.
type AdmitUpload struct {
	Policies  PolicyStore
	Admission AdmissionPolicy
	Mode      domain.Mode
	Clock     Clock

	mu        sync.Mutex
	decisions []domain.UploadDecision
}

// Execute gates one upload. Policy facts come back inside the decision;
// only storage or bundle-evaluation errors are returned as errors.
func (uc *AdmitUpload) Execute(ctx context.Context, cand domain.UploadCandidate) (domain.UploadDecision, error) {
	decision := domain.UploadDecision{
		Package:    cand.PackageName,
		Signer:     cand.Signer,
		Config:     uc.mode(),
		UploadTime: uc.now(),
		Checks:     map[string]bool{},
		Decision:   domain.AdmissionRejected,
	}

	var err error
	if uc.mode() == domain.ModeBaseline {
		decision = uc.admitBaseline(decision, cand)
	} else {
		decision, err = uc.admitDefense(ctx, decision, cand)
		if err != nil {
			return domain.UploadDecision{}, err
		}
	}

	uc.mu.Lock()
	uc.decisions = append(uc.decisions, decision)
	uc.mu.Unlock()
	return decision, nil
}

func (uc *AdmitUpload) admitBaseline(decision domain.UploadDecision, cand domain.UploadCandidate) domain.UploadDecision {
	if cand.Artifact == nil {
		decision.Checks[domain.CheckArtifactExists] = false
		decision.Reason = "artifact not supplied"
		return decision
	}
	decision.Checks[domain.CheckArtifactExists] = true
	decision.Checks[domain.CheckBasicIntegrity] = true
	decision.Decision = domain.AdmissionAccepted
	decision.Reason = "baseline mode: minimal validation passed"
	return decision
}

func (uc *AdmitUpload) admitDefense(ctx context.Context, decision domain.UploadDecision, cand domain.UploadCandidate) (domain.UploadDecision, error) {
	if cand.Artifact == nil {
		decision.Checks[domain.CheckArtifactExists] = false
		decision.Reason = "artifact not supplied"
		return decision, nil
	}
	decision.Checks[domain.CheckArtifactExists] = true

	if len(cand.SignatureBlob) == 0 && cand.Signature == nil {
		decision.Checks[domain.CheckHasSignature] = false
		decision.Reason = "no signature found for artifact"
		return decision, nil
	}
	decision.Checks[domain.CheckHasSignature] = true

	signer := signerIdentity(cand.Signer, cand.Signature)
	if signer == "" {
		decision.Reason = "could not extract signer identity"
		return decision, nil
	}
	decision.Signer = signer

	authorized, err := uc.Policies.IsAuthorized(ctx, signer, cand.PackageName)
	if err != nil {
		return domain.UploadDecision{}, err
	}
	decision.Checks[domain.CheckAuthorized] = authorized
	if !authorized {
		decision.Reason = fmt.Sprintf("signer %s not authorized for package %s", signer, cand.PackageName)
		return decision, nil
	}

	if !signatureBlobLooksValid(cand) {
		decision.Checks[domain.CheckSignatureOK] = false
		decision.Reason = "signature integrity check failed"
		return decision, nil
	}
	decision.Checks[domain.CheckSignatureOK] = true

	// Log acceptance is a placeholder that always passes; the receipt is
	// stamped anyway so the decision shape stays stable if a real
	// inclusion check lands here later.
	decision.Checks[domain.CheckLogAccepted] = true
	decision.LogReceipt = fmt.Sprintf("log-receipt-%d", decision.UploadTime.Unix())

	if uc.Admission != nil {
		eval, err := uc.Admission.Evaluate(ctx, domain.AdmissionInput{
			Package: cand.PackageName,
			Signer:  signer,
			Config:  decision.Config,
			Checks:  decision.Checks,
		})
		if err != nil {
			return domain.UploadDecision{}, err
		}
		decision.Checks[domain.CheckBundleAllowed] = eval.Result.Allow
		if !eval.Result.Allow {
			decision.Reason = admissionDenyReason(eval.Result.Deny)
			return decision, nil
		}
	}

	decision.Decision = domain.AdmissionAccepted
	decision.Reason = "all admission checks passed"
	return decision, nil
}

// Decisions returns a copy of the gate's upload log, oldest first.
func (uc *AdmitUpload) Decisions() []domain.UploadDecision {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	out := make([]domain.UploadDecision, len(uc.decisions))
	copy(out, uc.decisions)
	return out
}

// Stats summarizes the gate's accept/reject history.
func (uc *AdmitUpload) Stats() domain.UploadStats {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	stats := domain.UploadStats{Total: len(uc.decisions)}
	if stats.Total == 0 {
		return stats
	}
	for _, d := range uc.decisions {
		if d.Decision == domain.AdmissionAccepted {
			stats.Accepted++
		}
	}
	stats.Rejected = stats.Total - stats.Accepted
	stats.AcceptanceRate = float64(stats.Accepted) / float64(stats.Total)
	stats.RejectionRate = float64(stats.Rejected) / float64(stats.Total)
	return stats
}

func (uc *AdmitUpload) mode() domain.Mode {
	if uc.Mode == domain.ModeBaseline {
		return domain.ModeBaseline
	}
	return domain.ModeDefense
}

func (uc *AdmitUpload) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock()
	}
	return time.Now()
}

func signatureBlobLooksValid(cand domain.UploadCandidate) bool {
	if cand.Signature != nil && !cand.Signature.Valid {
		return false
	}
	for _, marker := range badSignatureMarkers {
		if bytes.Contains(cand.SignatureBlob, marker) {
			return false
		}
	}
	return true
}

func admissionDenyReason(denies []domain.AdmissionDeny) string {
	if len(denies) == 0 {
		return "admission bundle denied upload"
	}
	reason := "admission bundle denied upload: " + denies[0].Code
	if denies[0].Message != "" {
		reason += " (" + denies[0].Message + ")"
	}
	return reason
}
