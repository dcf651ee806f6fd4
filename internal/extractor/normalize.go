package extractor

import "strings"

func trimQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}

// pythonImport turns relative module names into path-like targets:
// ".utils" -> "./utils", "..pkg.mod" -> "../pkg/mod", "." -> "."
func pythonImport(s string) string {
	dots := len(s) - len(strings.TrimLeft(s, "."))
	if dots == 0 {
		return s
	}
	rest := strings.ReplaceAll(s[dots:], ".", "/")
	prefix := "."
	if dots > 1 {
		prefix = strings.TrimSuffix(strings.Repeat("../", dots-1), "/")
	}
	if rest == "" {
		return prefix
	}
	return prefix + "/" + rest
}

// rustImport drops use-group braces and globs: "crate::a::{b, c}" -> "crate::a"
func rustImport(s string) string {
	if i := strings.Index(s, "{"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "*")
	s = strings.TrimSuffix(s, "::")
	if i := strings.Index(s, " as "); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
