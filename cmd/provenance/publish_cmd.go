package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"provd/internal/domain"
	"provd/internal/usecase"
)

func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var packageName string
	var artifactPath string
	var signaturePath string
	var signer string
	var mode string

	fs.StringVar(&packageName, "package", "", "package name (default: artifact file name)")
	fs.StringVar(&artifactPath, "artifact", "", "artifact file")
	fs.StringVar(&signaturePath, "signature", "", "signature document file")
	fs.StringVar(&signer, "signer", "", "claimed uploader identity (default: signature identity)")
	fs.StringVar(&mode, "config", string(domain.ModeDefense), "gate configuration (baseline|defense)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	in, err := loadSignedInput(packageName, artifactPath, signaturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		return 1
	}

	cand := domain.UploadCandidate{
		PackageName:   in.PackageName,
		Signer:        signer,
		Artifact:      in.Artifact,
		SignatureBlob: in.SignatureBlob,
		Signature:     in.Signature,
	}

	ctx := context.Background()
	var decision domain.UploadDecision
	if client := remoteClient(); client != nil {
		decision, err = client.Upload(ctx, cand)
	} else {
		decision, err = localPublish(ctx, domain.Mode(mode), cand)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		return 1
	}

	fmt.Printf("package=%s config=%s decision=%s\n", decision.Package, decision.Config, decision.Decision)
	fmt.Printf("reason=%s\n", decision.Reason)
	if decision.LogReceipt != "" {
		fmt.Printf("log_receipt=%s\n", decision.LogReceipt)
	}
	if decision.Decision == domain.AdmissionAccepted {
		return 0
	}
	return 1
}

func localPublish(ctx context.Context, mode domain.Mode, cand domain.UploadCandidate) (domain.UploadDecision, error) {
	policies, err := openPolicies()
	if err != nil {
		return domain.UploadDecision{}, fmt.Errorf("open policy store: %w", err)
	}
	uc := &usecase.AdmitUpload{
		Policies: policies,
		Mode:     mode,
	}
	return uc.Execute(ctx, cand)
}
