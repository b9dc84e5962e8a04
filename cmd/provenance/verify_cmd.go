package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"provd/internal/domain"
	"provd/internal/usecase"
)

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var packageName string
	var artifactPath string
	var signaturePath string
	var expectedIdentity string
	var mode string

	fs.StringVar(&packageName, "package", "", "package name (default: artifact file name)")
	fs.StringVar(&artifactPath, "artifact", "", "artifact file")
	fs.StringVar(&signaturePath, "signature", "", "signature document file")
	fs.StringVar(&expectedIdentity, "expected-identity", "", "identity the signature must carry")
	fs.StringVar(&mode, "config", string(domain.ModeDefense), "verification configuration (baseline|defense)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	in, err := loadSignedInput(packageName, artifactPath, signaturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 1
	}

	cand := domain.VerificationCandidate{
		PackageName:      in.PackageName,
		ExpectedIdentity: expectedIdentity,
		Artifact:         in.Artifact,
		Signature:        in.Signature,
	}

	ctx := context.Background()
	var result domain.VerificationResult
	if client := remoteClient(); client != nil {
		result, err = client.Verify(ctx, cand)
	} else {
		result, err = localVerify(ctx, domain.Mode(mode), cand)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 1
	}

	printVerification(result)
	if result.Verdict == domain.VerdictPassed {
		return 0
	}
	return 1
}

func localVerify(ctx context.Context, mode domain.Mode, cand domain.VerificationCandidate) (domain.VerificationResult, error) {
	log, err := openLog()
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("open transparency log: %w", err)
	}
	policies, err := openPolicies()
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("open policy store: %w", err)
	}
	uc := &usecase.VerifyArtifact{
		Log:      log,
		Policies: policies,
		Mode:     mode,
	}
	return uc.Execute(ctx, cand)
}

func printVerification(result domain.VerificationResult) {
	fmt.Printf("package=%s config=%s result=%s\n", result.Package, result.Config, result.Verdict)
	fmt.Printf("signature_valid=%s identity_verified=%s in_transparency_log=%s timestamp_valid=%s\n",
		result.SignatureValid, result.IdentityVerified, result.InTransparencyLog, result.TimestampValid)
	if result.FailureReason != domain.ReasonNone {
		fmt.Printf("failure_reason=%s\n", result.FailureReason)
	}
	if result.FailureDetail != "" {
		fmt.Printf("failure_detail=%s\n", result.FailureDetail)
	}
}
