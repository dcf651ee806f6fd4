package types

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"time"
)

// Language is the detected language tag of a source file
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangRust       Language = "rust"
	LangRuby       Language = "ruby"
	LangCSharp     Language = "csharp"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangPHP        Language = "php"
	LangShell      Language = "shell"
	LangYAML       Language = "yaml"
	LangJSON       Language = "json"
	LangTOML       Language = "toml"
	LangXML        Language = "xml"
	LangMarkdown   Language = "markdown"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangText       Language = "text"
	LangUnknown    Language = "unknown"
)

var extLanguages = map[string]Language{
	".go":    LangGo,
	".py":    LangPython,
	".pyi":   LangPython,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".mjs":   LangJavaScript,
	".cjs":   LangJavaScript,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".mts":   LangTypeScript,
	".java":  LangJava,
	".kt":    LangKotlin,
	".kts":   LangKotlin,
	".rs":    LangRust,
	".rb":    LangRuby,
	".cs":    LangCSharp,
	".c":     LangC,
	".h":     LangC,
	".cc":    LangCPP,
	".cpp":   LangCPP,
	".hpp":   LangCPP,
	".php":   LangPHP,
	".sh":    LangShell,
	".bash":  LangShell,
	".yaml":  LangYAML,
	".yml":   LangYAML,
	".json":  LangJSON,
	".toml":  LangTOML,
	".xml":   LangXML,
	".md":    LangMarkdown,
	".html":  LangHTML,
	".htm":   LangHTML,
	".css":   LangCSS,
	".txt":   LangText,
	".ini":   LangText,
	".cfg":   LangText,
	".env":   LangText,
}

// DetectLanguage maps a file path to its language tag by extension
func DetectLanguage(p string) Language {
	ext := strings.ToLower(path.Ext(p))
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	return LangUnknown
}

// IsConfigPath reports whether a path looks like a configuration file.
// Config files get a structural-priority boost during retrieval.
func IsConfigPath(p string) bool {
	base := strings.ToLower(path.Base(p))
	switch path.Ext(base) {
	case ".yaml", ".yml", ".toml", ".ini", ".cfg", ".conf", ".env", ".properties":
		return true
	}
	return base == ".env" || strings.HasPrefix(base, "dockerfile") || base == "makefile"
}

// IsTestPath reports whether a path follows a common test-file naming convention
func IsTestPath(p string) bool {
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.HasSuffix(base, "_test.py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasSuffix(base, "Test.java"),
		strings.HasSuffix(base, "Test.kt"):
		return true
	}
	for _, dir := range strings.Split(path.Dir(p), "/") {
		if dir == "tests" || dir == "__tests__" || dir == "test" {
			return true
		}
	}
	return false
}

// SourceFile is one repository file read during an indexing pass
type SourceFile struct {
	Path     string // Relative to repository root, slash-separated
	Content  []byte
	Size     int64
	Language Language
	ModTime  time.Time
}

// Hash returns the hex SHA-256 of the file content
func (f *SourceFile) Hash() string {
	h := sha256.Sum256(f.Content)
	return hex.EncodeToString(h[:])
}
