package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"provd/internal/domain"
)

func runPolicyList(args []string) int {
	fs := flag.NewFlagSet("policy list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	var policies []domain.Policy
	var err error
	if client := remoteClient(); client != nil {
		policies, err = client.ListPolicies(ctx)
	} else {
		store, openErr := openPolicies()
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "policy list: %v\n", openErr)
			return 1
		}
		policies, err = store.ListPolicies(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy list: %v\n", err)
		return 1
	}

	for _, policy := range policies {
		line := fmt.Sprintf("identity=%s packages=%s", policy.Identity, strings.Join(policy.AuthorizedPackages, ","))
		if policy.ExpiresAt != nil {
			line += " expires=" + policy.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Println(line)
	}
	return 0
}

func runPolicyAdd(args []string) int {
	fs := flag.NewFlagSet("policy add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var identity string
	var packages string
	var description string
	var expires string

	fs.StringVar(&identity, "identity", "", "signer identity")
	fs.StringVar(&packages, "packages", "", "comma-separated package names")
	fs.StringVar(&description, "description", "", "policy description")
	fs.StringVar(&expires, "expires", "", "expiry (RFC3339, empty for none)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if identity == "" {
		fmt.Fprintln(os.Stderr, "policy add requires --identity")
		return 1
	}

	policy := domain.Policy{
		Identity:    identity,
		Description: description,
	}
	for _, name := range strings.Split(packages, ",") {
		if name = strings.TrimSpace(name); name != "" {
			policy.AuthorizedPackages = append(policy.AuthorizedPackages, name)
		}
	}
	if expires != "" {
		at, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse expires: %v\n", err)
			return 1
		}
		policy.ExpiresAt = &at
	}

	ctx := context.Background()
	var err error
	if client := remoteClient(); client != nil {
		err = client.AddPolicy(ctx, policy)
	} else {
		store, openErr := openPolicies()
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "policy add: %v\n", openErr)
			return 1
		}
		err = store.AddPolicy(ctx, policy)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy add: %v\n", err)
		return 1
	}

	fmt.Printf("policy stored for %s\n", policy.Identity)
	return 0
}

func runPolicyRevoke(args []string) int {
	fs := flag.NewFlagSet("policy revoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var identity string
	var packageName string

	fs.StringVar(&identity, "identity", "", "signer identity")
	fs.StringVar(&packageName, "package", "", "package name to revoke")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if identity == "" || packageName == "" {
		fmt.Fprintln(os.Stderr, "policy revoke requires --identity and --package")
		return 1
	}

	ctx := context.Background()
	var err error
	if client := remoteClient(); client != nil {
		err = client.RevokeGrant(ctx, identity, packageName)
	} else {
		store, openErr := openPolicies()
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "policy revoke: %v\n", openErr)
			return 1
		}
		err = store.RevokeGrant(ctx, identity, packageName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy revoke: %v\n", err)
		return 1
	}

	fmt.Printf("revoked %s for %s\n", packageName, identity)
	return 0
}

func runPolicyCheck(args []string) int {
	fs := flag.NewFlagSet("policy check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var identity string
	var packageName string

	fs.StringVar(&identity, "identity", "", "signer identity")
	fs.StringVar(&packageName, "package", "", "package name")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if identity == "" || packageName == "" {
		fmt.Fprintln(os.Stderr, "policy check requires --identity and --package")
		return 1
	}

	ctx := context.Background()
	var authorized bool
	var err error
	if client := remoteClient(); client != nil {
		authorized, err = client.CheckAuthorization(ctx, identity, packageName)
	} else {
		store, openErr := openPolicies()
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "policy check: %v\n", openErr)
			return 1
		}
		authorized, err = store.IsAuthorized(ctx, identity, packageName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy check: %v\n", err)
		return 1
	}

	fmt.Printf("identity=%s package=%s authorized=%t\n", identity, packageName, authorized)
	if authorized {
		return 0
	}
	return 1
}
