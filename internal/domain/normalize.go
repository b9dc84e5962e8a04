package domain

import "strings"

var archiveSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".zip"}

// NormalizePackage reduces a raw package filename or identifier to its
// family name: the archive extension is stripped, then a trailing numeric
// trial suffix ("name_7" -> "name"), then a version segment immediately
// preceding that suffix ("name_v1_7" -> "name"). Already-base names pass
// through unchanged, so the function is idempotent.
//
// Every policy comparison must go through this function; version and trial
// variance must never cause a spurious authorization mismatch. Per-version
// integrity is the transparency log's job, not the policy store's.
func NormalizePackage(name string) string {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	parts := strings.Split(name, "_")
	last := parts[len(parts)-1]
	if len(parts) >= 3 && isVersionSegment(parts[len(parts)-2]) && isDigits(last) {
		return strings.Join(parts[:len(parts)-2], "_")
	}
	if len(parts) >= 2 && isDigits(last) {
		return strings.Join(parts[:len(parts)-1], "_")
	}
	return name
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isVersionSegment(s string) bool {
	return len(s) >= 2 && s[0] == 'v' && isDigits(s[1:])
}
