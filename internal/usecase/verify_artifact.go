package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"provd/internal/domain"
)

// suspiciousExpiryWindow bounds the expired-certificate race check: a
// certificate that expired while the artifact was signed less than this
// long ago points at an attacker rushing a just-expired short-lived cert.
const suspiciousExpiryWindow = time.Hour

// VerifyArtifact is the install-time verification pipeline. It holds
// references to the transparency log and policy store but owns neither,
// and is stateless across runs apart from the optional Recorder.
type VerifyArtifact struct {
	Log      TransparencyLog
	Policies PolicyStore
	Mode     domain.Mode
	Clock    Clock
	Recorder *Recorder
}

// Execute runs one verification. Check failures come back inside the
// result with the reason for the first failed step; only storage errors
// are returned as errors, and those abort the run entirely.
func (uc *VerifyArtifact) Execute(ctx context.Context, cand domain.VerificationCandidate) (domain.VerificationResult, error) {
	var (
		result domain.VerificationResult
		err    error
	)
	if uc.Mode == domain.ModeBaseline {
		result = uc.verifyBaseline(cand)
	} else {
		result, err = uc.verifyDefense(ctx, cand)
		if err != nil {
			return domain.VerificationResult{}, err
		}
	}
	if uc.Recorder != nil {
		uc.Recorder.Record(result)
	}
	return result, nil
}

// verifyBaseline performs the signature check and nothing else. A
// structurally valid signature passes regardless of signer, log state, or
// timing; that is the point of the baseline configuration.
func (uc *VerifyArtifact) verifyBaseline(cand domain.VerificationCandidate) domain.VerificationResult {
	start := uc.now()
	result := domain.VerificationResult{
		Config:            domain.ModeBaseline,
		Package:           cand.PackageName,
		Verdict:           domain.VerdictFailed,
		SignatureValid:    domain.StepFailed,
		IdentityVerified:  domain.StepSkipped,
		InTransparencyLog: domain.StepSkipped,
		TimestampValid:    domain.StepSkipped,
		FailureReason:     domain.ReasonNone,
	}

	if ok, reason, detail := signatureCheck(cand.Artifact, cand.Signature); !ok {
		result.FailureReason = reason
		result.FailureDetail = detail
	} else {
		result.SignatureValid = domain.StepPassed
		result.Verdict = domain.VerdictPassed
	}
	result.LatencyMillis = uc.millisSince(start)
	return result
}

// verifyDefense runs the full ordered pipeline. Checks short-circuit: the
// first failure fixes the verdict and reason, later steps do not run.
func (uc *VerifyArtifact) verifyDefense(ctx context.Context, cand domain.VerificationCandidate) (domain.VerificationResult, error) {
	start := uc.now()
	result := domain.VerificationResult{
		Config:            domain.ModeDefense,
		Package:           cand.PackageName,
		Verdict:           domain.VerdictFailed,
		SignatureValid:    domain.StepFailed,
		IdentityVerified:  domain.StepFailed,
		InTransparencyLog: domain.StepFailed,
		TimestampValid:    domain.StepFailed,
		FailureReason:     domain.ReasonNone,
	}
	fail := func(reason domain.FailureReason, detail string) domain.VerificationResult {
		result.FailureReason = reason
		result.FailureDetail = detail
		result.LatencyMillis = uc.millisSince(start)
		return result
	}

	// Step 1: signature.
	if ok, reason, detail := signatureCheck(cand.Artifact, cand.Signature); !ok {
		return fail(reason, detail), nil
	}
	result.SignatureValid = domain.StepPassed

	// Step 2: identity authorization, then caller expectation.
	identity := signerIdentity("", cand.Signature)
	authorized, err := uc.Policies.IsAuthorized(ctx, identity, cand.PackageName)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	if !authorized {
		family := domain.NormalizePackage(cand.PackageName)
		return fail(domain.ReasonIdentityNotAuthorized, fmt.Sprintf("%s cannot publish %s", identity, family)), nil
	}
	if cand.ExpectedIdentity != "" && identity != cand.ExpectedIdentity {
		return fail(domain.ReasonIdentityMismatch, fmt.Sprintf("expected=%s got=%s", cand.ExpectedIdentity, identity)), nil
	}
	result.IdentityVerified = domain.StepPassed

	// Step 3: transparency-log inclusion by content digest. A miss covers
	// both never-logged and logged-under-a-different-hash; the lookup
	// cannot tell them apart and the reason code names both.
	hash := domain.HashArtifact(cand.Artifact)
	if _, err := uc.Log.FindByHash(ctx, hash); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail(domain.ReasonNotInTransparencyLog, "no log entry matches "+hash.String()), nil
		}
		return domain.VerificationResult{}, err
	}
	result.InTransparencyLog = domain.StepPassed

	// Step 4: certificate timing.
	sig := cand.Signature
	if sig.SigningTime.Before(sig.CertValidFrom) || sig.SigningTime.After(sig.CertValidUntil) {
		return fail(domain.ReasonTimestampInvalid, "signing time outside certificate validity window"), nil
	}
	now := uc.now()
	if now.After(sig.CertValidUntil) && now.Sub(sig.SigningTime) < suspiciousExpiryWindow {
		return fail(domain.ReasonCertExpiredSuspicious,
			fmt.Sprintf("certificate expired although signing was only %s ago", now.Sub(sig.SigningTime).Truncate(time.Second))), nil
	}
	result.TimestampValid = domain.StepPassed

	// Step 5: rollback. Runs last; it is the widest log scan and only
	// means anything once identity and hash checked out.
	newer, err := uc.Log.FindNewerThan(ctx, cand.PackageName, sig.SigningTime)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	if len(newer) > 0 {
		return fail(domain.ReasonRollbackDetected, fmt.Sprintf("%d newer signed versions exist", len(newer))), nil
	}

	result.Verdict = domain.VerdictPassed
	result.LatencyMillis = uc.millisSince(start)
	return result, nil
}

func (uc *VerifyArtifact) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock()
	}
	return time.Now()
}

func (uc *VerifyArtifact) millisSince(start time.Time) float64 {
	return float64(uc.now().Sub(start).Microseconds()) / 1000.0
}

// signatureCheck validates the candidate's inputs and the pre-verified
// signature signal. Missing inputs fail the run immediately rather than
// crashing later.
func signatureCheck(artifact []byte, sig *domain.Signature) (bool, domain.FailureReason, string) {
	if artifact == nil {
		return false, domain.ReasonMissingArtifact, "no artifact reference supplied"
	}
	if sig == nil {
		return false, domain.ReasonMissingSignature, "no signature reference supplied"
	}
	if !sig.Valid {
		detail := sig.Diagnostic
		if detail == "" {
			detail = "signature does not bind to artifact"
		}
		return false, domain.ReasonSignatureInvalid, detail
	}
	return true, domain.ReasonNone, ""
}
