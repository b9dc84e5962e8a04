package usecase

import "provd/internal/domain"

// signerIdentity resolves the signing principal for a run: a declared
// identity wins, otherwise the one extracted from the signature metadata.
// Both gates go through this function so they can never disagree on whose
// identity is being authorized.
func signerIdentity(declared string, sig *domain.Signature) string {
	if declared != "" {
		return declared
	}
	if sig != nil {
		return sig.SignerIdentity
	}
	return ""
}
