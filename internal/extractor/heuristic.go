package extractor

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

// importPatterns holds per-language regexes whose first group is an import
// target. Patterns are applied line by line.
var importPatterns = map[types.Language][]*regexp.Regexp{
	types.LangGo: {
		regexp.MustCompile(`^\s*import\s+(?:[\w.]+\s+)?"([^"]+)"`),
		regexp.MustCompile(`^\s*(?:[\w.]+\s+)?"([^"]+)"\s*$`),
	},
	types.LangPython: {
		regexp.MustCompile(`^\s*from\s+([.\w]+)\s+import\b`),
		regexp.MustCompile(`^\s*import\s+([\w.]+)`),
	},
	types.LangJavaScript: jsPatterns,
	types.LangTypeScript: jsPatterns,
	types.LangJava: {
		regexp.MustCompile(`^\s*import\s+(?:static\s+)?([\w.]+)(?:\.\*)?\s*;`),
	},
	types.LangKotlin: {
		regexp.MustCompile(`^\s*import\s+([\w.]+)`),
	},
	types.LangRust: {
		regexp.MustCompile(`^\s*(?:pub\s+)?use\s+([\w:]+)`),
		regexp.MustCompile(`^\s*extern\s+crate\s+(\w+)`),
	},
	types.LangRuby: {
		regexp.MustCompile(`^\s*require(?:_relative)?\s*\(?\s*['"]([^'"]+)['"]`),
	},
	types.LangC: cPatterns,
	types.LangCPP: cPatterns,
	types.LangCSharp: {
		regexp.MustCompile(`^\s*using\s+(?:static\s+)?([\w.]+)\s*;`),
	},
	types.LangPHP: {
		regexp.MustCompile(`^\s*(?:require|include)(?:_once)?\s*\(?\s*['"]([^'"]+)['"]`),
		regexp.MustCompile(`^\s*use\s+([\w\\]+)`),
	},
}

var jsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bimport\s+.*?from\s+['"]([^'"]+)['"]`),
	regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`),
	regexp.MustCompile(`\bexport\s+.*?from\s+['"]([^'"]+)['"]`),
	regexp.MustCompile(`\brequire\s*\(\s*['"]([^'"]+)['"]\s*\)`),
	regexp.MustCompile(`\bimport\s*\(\s*['"]([^'"]+)['"]\s*\)`),
}

var cPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*#\s*include\s+"([^"]+)"`),
}

// Heuristic is the degraded strategy: regex import scanning, no symbols
type Heuristic struct {
	Manifests
}

// NewHeuristic creates the heuristic strategy
func NewHeuristic(m Manifests) *Heuristic {
	return &Heuristic{Manifests: m}
}

// Name implements Extractor
func (h *Heuristic) Name() string { return "heuristic" }

// DetectImports implements Extractor
func (h *Heuristic) DetectImports(p string, src []byte) ([]types.Import, error) {
	lang := types.DetectLanguage(p)
	patterns := importPatterns[lang]
	if len(patterns) == 0 {
		return nil, nil
	}

	var (
		imports []types.Import
		inBlock bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()

		// Go block imports: bare quoted lines only count inside import ( ... )
		if lang == types.LangGo {
			trimmed := strings.TrimSpace(text)
			switch {
			case strings.HasPrefix(trimmed, "import ("):
				inBlock = true
				continue
			case inBlock && trimmed == ")":
				inBlock = false
				continue
			}
		}

		for i, re := range patterns {
			if lang == types.LangGo && i == 1 && !inBlock {
				continue
			}
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			target := strings.TrimSpace(m[1])
			if lang == types.LangPython {
				target = pythonImport(target)
			}
			if target != "" {
				imports = append(imports, types.Import{Target: target, Line: line})
			}
			break
		}
	}
	return imports, scanner.Err()
}

// DetectSymbols implements Extractor; the heuristic never reports symbols
func (h *Heuristic) DetectSymbols(string, []byte) ([]types.Symbol, error) {
	return nil, nil
}
