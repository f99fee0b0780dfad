package args

import "strings"

// shellSafe reports whether s can appear unquoted in a POSIX shell word.
func shellSafe(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./=:,+@%", r):
		default:
			return false
		}
	}
	return true
}

// QuoteWord quotes a single word for a POSIX shell using single quotes.
// Embedded single quotes are written as '\''.
func QuoteWord(s string) string {
	if shellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Quote renders argv as one shell command line.
func Quote(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = QuoteWord(a)
	}
	return strings.Join(quoted, " ")
}
