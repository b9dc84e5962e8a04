package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"

	"provd/internal/domain"
)

func runLogAppend(args []string) int {
	fs := flag.NewFlagSet("log append", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var packageName string
	var artifactPath string
	var signaturePath string

	fs.StringVar(&packageName, "package", "", "package name (default: artifact file name)")
	fs.StringVar(&artifactPath, "artifact", "", "artifact file")
	fs.StringVar(&signaturePath, "signature", "", "signature document file")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	in, err := loadSignedInput(packageName, artifactPath, signaturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log append: %v\n", err)
		return 1
	}
	if in.Signature == nil {
		fmt.Fprintln(os.Stderr, "log append requires --signature")
		return 1
	}

	entry := domain.LogEntry{
		PackageName:    in.PackageName,
		ArtifactHash:   digest.FromBytes(in.Artifact),
		SignerIdentity: in.Signature.SignerIdentity,
		SigningTime:    in.Signature.SigningTime,
		CertValidFrom:  in.Signature.CertValidFrom,
		CertValidUntil: in.Signature.CertValidUntil,
	}

	ctx := context.Background()
	var index int64
	if client := remoteClient(); client != nil {
		index, err = client.AppendEntry(ctx, entry)
	} else {
		log, openErr := openLog()
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "log append: %v\n", openErr)
			return 1
		}
		index, err = log.Append(ctx, entry)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "log append: %v\n", err)
		return 1
	}

	fmt.Printf("log_index=%d artifact_hash=%s\n", index, entry.ArtifactHash)
	return 0
}

func runLogQuery(args []string) int {
	fs := flag.NewFlagSet("log query", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var hash string
	var packageName string
	var identity string

	fs.StringVar(&hash, "hash", "", "artifact content digest")
	fs.StringVar(&packageName, "package", "", "package name")
	fs.StringVar(&identity, "identity", "", "signer identity")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	entries, err := queryEntries(ctx, hash, packageName, identity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log query: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Println("no matching entries")
		return 1
	}
	for _, entry := range entries {
		fmt.Printf("index=%d package=%s signer=%s signed_at=%s hash=%s\n",
			entry.LogIndex, entry.PackageName, entry.SignerIdentity,
			entry.SigningTime.Format("2006-01-02T15:04:05Z07:00"), entry.ArtifactHash)
	}
	return 0
}

func queryEntries(ctx context.Context, hash, packageName, identity string) ([]domain.LogEntry, error) {
	client := remoteClient()

	switch {
	case hash != "":
		parsed, err := digest.Parse(hash)
		if err != nil {
			return nil, fmt.Errorf("parse hash: %w", err)
		}
		if client != nil {
			entry, err := client.FindByHash(ctx, parsed)
			if err != nil {
				return nil, err
			}
			return []domain.LogEntry{*entry}, nil
		}
		log, err := openLog()
		if err != nil {
			return nil, err
		}
		entry, err := log.FindByHash(ctx, parsed)
		if err != nil {
			return nil, err
		}
		return []domain.LogEntry{*entry}, nil
	case packageName != "":
		if client != nil {
			return client.FindByPackage(ctx, packageName)
		}
		log, err := openLog()
		if err != nil {
			return nil, err
		}
		return log.FindByPackage(ctx, packageName)
	case identity != "":
		if client != nil {
			return client.FindByIdentity(ctx, identity)
		}
		log, err := openLog()
		if err != nil {
			return nil, err
		}
		return log.FindByIdentity(ctx, identity)
	default:
		return nil, fmt.Errorf("one of --hash, --package, --identity is required")
	}
}
