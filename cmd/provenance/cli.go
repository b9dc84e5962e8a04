package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "verify":
		return runVerify(args[2:])
	case "publish":
		return runPublish(args[2:])
	case "log":
		if len(args) >= 3 {
			switch args[2] {
			case "append":
				return runLogAppend(args[3:])
			case "query":
				return runLogQuery(args[3:])
			}
		}
	case "policy":
		if len(args) >= 3 {
			switch args[2] {
			case "list":
				return runPolicyList(args[3:])
			case "add":
				return runPolicyAdd(args[3:])
			case "revoke":
				return runPolicyRevoke(args[3:])
			case "check":
				return runPolicyCheck(args[3:])
			}
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "provenance"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s verify --artifact <file> --signature <file> [--package <name>] [--expected-identity <id>] [--config baseline|defense]\n", name)
	fmt.Fprintf(os.Stderr, "  %s publish --artifact <file> --signature <file> [--package <name>] [--signer <id>] [--config baseline|defense]\n", name)
	fmt.Fprintf(os.Stderr, "  %s log append --artifact <file> --signature <file> [--package <name>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s log query (--hash <digest>|--package <name>|--identity <id>)\n", name)
	fmt.Fprintf(os.Stderr, "  %s policy list\n", name)
	fmt.Fprintf(os.Stderr, "  %s policy add --identity <id> --packages <a,b,c> [--description <text>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s policy revoke --identity <id> --package <name>\n", name)
	fmt.Fprintf(os.Stderr, "  %s policy check --identity <id> --package <name>\n", name)
	fmt.Fprintf(os.Stderr, "\nset PROVD_URL to operate against a running server instead of local files;\n")
	fmt.Fprintf(os.Stderr, "PROVD_ADMIN_KEY authenticates log append and policy add/revoke.\n")
}
