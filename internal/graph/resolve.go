package graph

import (
	"path"
	"sort"
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

// codeExtensions are tried, in order, when an import omits its extension
var codeExtensions = []string{
	".go", ".py", ".pyi", ".ts", ".tsx", ".mts", ".js", ".jsx", ".mjs", ".cjs",
	".java", ".kt", ".rs", ".rb", ".php", ".cs", ".h", ".hpp", ".c", ".cc", ".cpp",
}

// indexFiles stand for their directory when a directory is imported
var indexFiles = []string{
	"index.ts", "index.tsx", "index.js", "index.jsx", "__init__.py", "mod.rs",
}

// staticRoots are tried for package-root-relative resolution
var staticRoots = []string{"src", "lib", "app", "src/main/java", "src/main/kotlin"}

// prefixRoot maps an import prefix declared by a manifest to a directory
type prefixRoot struct {
	prefix string
	dir    string
}

type resolver struct {
	paths    map[string]bool
	dirFiles map[string][]string // directory -> files directly inside, sorted
	byBase   map[string][]string // base name -> files
	roots    []string
	prefixes []prefixRoot
}

type resolution struct {
	target     string // empty when external
	candidates []string
}

func newResolver(nodes []string, records map[string]types.StructuralRecord) *resolver {
	r := &resolver{
		paths:    make(map[string]bool, len(nodes)),
		dirFiles: make(map[string][]string),
		byBase:   make(map[string][]string),
	}
	for _, p := range nodes {
		r.paths[p] = true
		d := path.Dir(p)
		r.dirFiles[d] = append(r.dirFiles[d], p)
		r.byBase[path.Base(p)] = append(r.byBase[path.Base(p)], p)
	}

	roots := map[string]bool{}
	for _, root := range staticRoots {
		roots[root] = true
	}
	for p, rec := range records {
		if !rec.EntryPoint {
			continue
		}
		dir := path.Dir(p)
		if dir != "." {
			roots[dir] = true
		}
		if rec.Module == "" {
			continue
		}
		switch path.Base(p) {
		case "go.mod":
			r.prefixes = append(r.prefixes, prefixRoot{prefix: rec.Module, dir: dir})
		case "Cargo.toml":
			r.prefixes = append(r.prefixes, prefixRoot{
				prefix: strings.ReplaceAll(rec.Module, "-", "_"),
				dir:    path.Join(dir, "src"),
			})
		}
	}
	for root := range roots {
		r.roots = append(r.roots, root)
	}
	sort.Strings(r.roots)

	// longest prefix first so nested modules win
	sort.Slice(r.prefixes, func(i, j int) bool {
		if len(r.prefixes[i].prefix) != len(r.prefixes[j].prefix) {
			return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
		}
		return r.prefixes[i].prefix < r.prefixes[j].prefix
	})
	return r
}

func isRelative(target string) bool {
	return target == "." || target == ".." ||
		strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../")
}

// forms returns the path-like spellings of an import target for lang
func forms(lang types.Language, target string) []string {
	out := []string{target}
	if isRelative(target) {
		return out
	}
	switch lang {
	case types.LangPython, types.LangJava, types.LangKotlin, types.LangCSharp:
		out = append(out, strings.ReplaceAll(target, ".", "/"))
	case types.LangRust:
		t := strings.ReplaceAll(target, "::", "/")
		t = strings.TrimPrefix(t, "crate/")
		t = strings.TrimPrefix(t, "self/")
		out = append(out, t)
		// use paths usually name an item inside the module file
		if i := strings.LastIndex(t, "/"); i > 0 {
			out = append(out, t[:i])
		}
	case types.LangPHP:
		out = append(out, strings.ReplaceAll(target, `\`, "/"))
	}
	return uniq(out)
}

// bases returns the repository locations a form may denote before
// extensions are applied
func bases(source string, lang types.Language, form string) []string {
	dir := path.Dir(source)
	if isRelative(form) {
		return []string{path.Join(dir, form)}
	}
	out := []string{path.Clean(strings.TrimPrefix(form, "/"))}
	switch lang {
	case types.LangC, types.LangCPP, types.LangRuby:
		out = append(out, path.Join(dir, form))
	}
	return uniq(out)
}

// resolve applies exact -> extension/suffix -> package-root-relative and
// reports external when nothing matches. Within a step the lexically
// smallest candidate wins; more than one candidate is an ambiguity.
func (r *resolver) resolve(source string, lang types.Language, target string) resolution {
	fs := forms(lang, target)

	var locs []string
	for _, f := range fs {
		locs = append(locs, bases(source, lang, f)...)
	}
	locs = uniq(locs)

	// exact
	for _, loc := range locs {
		if r.paths[loc] {
			return resolution{target: loc}
		}
	}

	// extension, then directory suffix
	if res, ok := r.pick(r.withExtensions(source, locs)); ok {
		return res
	}
	var suffixed []string
	for _, f := range fs {
		if isRelative(f) || !strings.Contains(f, "/") {
			continue
		}
		suffixed = append(suffixed, r.suffixMatches(f)...)
	}
	if res, ok := r.pick(suffixed); ok {
		return res
	}

	// package-root-relative
	var rooted []string
	for _, f := range fs {
		if isRelative(f) {
			continue
		}
		for _, pr := range r.prefixes {
			if f == pr.prefix || strings.HasPrefix(f, pr.prefix+"/") {
				rooted = append(rooted, path.Join(pr.dir, strings.TrimPrefix(f, pr.prefix)))
			}
		}
		for _, root := range r.roots {
			rooted = append(rooted, path.Join(root, f))
		}
	}
	rooted = uniq(rooted)
	var matches []string
	for _, loc := range rooted {
		if r.paths[loc] {
			matches = append(matches, loc)
		}
	}
	if res, ok := r.pick(matches); ok {
		return res
	}
	if res, ok := r.pick(r.withExtensions(source, rooted)); ok {
		return res
	}

	return resolution{}
}

// withExtensions returns files named by locs plus a known extension or an
// index file. When none exist, a directory location resolves to its first
// non-test file of the importer's language.
func (r *resolver) withExtensions(source string, locs []string) []string {
	var out []string
	for _, loc := range locs {
		for _, ext := range codeExtensions {
			if r.paths[loc+ext] {
				out = append(out, loc+ext)
			}
		}
		for _, idx := range indexFiles {
			if p := path.Join(loc, idx); r.paths[p] {
				out = append(out, p)
			}
		}
	}
	if len(out) > 0 {
		return uniq(out)
	}

	ext := path.Ext(source)
	for _, loc := range locs {
		for _, p := range r.dirFiles[loc] {
			if path.Ext(p) == ext && !types.IsTestPath(p) {
				// a package directory is one target, not an ambiguity
				return []string{p}
			}
		}
	}
	return nil
}

// suffixMatches returns files whose path ends with /form plus an extension
func (r *resolver) suffixMatches(form string) []string {
	var out []string
	base := path.Base(form)
	for _, ext := range codeExtensions {
		for _, p := range r.byBase[base+ext] {
			if strings.HasSuffix(p, "/"+form+ext) {
				out = append(out, p)
			}
		}
	}
	return uniq(out)
}

func (r *resolver) pick(candidates []string) (resolution, bool) {
	if len(candidates) == 0 {
		return resolution{}, false
	}
	sort.Strings(candidates)
	res := resolution{target: candidates[0]}
	if len(candidates) > 1 {
		res.candidates = candidates
	}
	return res, true
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
