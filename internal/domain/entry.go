package domain

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// LogEntry is one signing event recorded in the transparency log.
// Entries are immutable once appended. LogIndex is owned by the log and
// assigned at append time; callers must leave it zero.
type LogEntry struct {
	LogIndex       int64         `json:"log_index"`
	PackageName    string        `json:"package_name"`
	ArtifactHash   digest.Digest `json:"artifact_hash"`
	SignerIdentity string        `json:"signer_identity"`
	SigningTime    time.Time     `json:"signing_time"`
	CertValidFrom  time.Time     `json:"cert_valid_from"`
	CertValidUntil time.Time     `json:"cert_valid_until"`

	// LoggedAt records observation time; decisions key off SigningTime only.
	LoggedAt time.Time `json:"logged_at"`
}

// HashArtifact computes the content digest the log is keyed by.
func HashArtifact(content []byte) digest.Digest {
	return digest.Canonical.FromBytes(content)
}

// Validate rejects entries that cannot be meaningfully logged.
func (e LogEntry) Validate() error {
	if e.PackageName == "" || e.SignerIdentity == "" {
		return ErrInvalidEntry
	}
	if err := e.ArtifactHash.Validate(); err != nil {
		return ErrInvalidEntry
	}
	if e.SigningTime.IsZero() {
		return ErrInvalidEntry
	}
	return nil
}
