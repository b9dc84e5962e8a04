package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is the capability surface granted to admission bundles.
// Bundles under data.provd.admission only inspect the upload input
// (package, signer, config, per-check booleans) and build deny entries, so
// they get comparisons, count, and string helpers. Everything else, in
// particular time, network, randomness, and codec builtins, is refused at
// load time.
var allowedBuiltins = map[string]struct{}{
	"eq":    {},
	"equal": {},
	"neq":   {},

	"count": {},

	"concat":     {},
	"contains":   {},
	"endswith":   {},
	"lower":      {},
	"split":      {},
	"sprintf":    {},
	"startswith": {},
	"trim":       {},

	"object.get": {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
