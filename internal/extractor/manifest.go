package extractor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// Manifest is what a package manifest declares
type Manifest struct {
	Module       string
	Dependencies []string
}

type manifestParser func(content []byte) (Manifest, error)

var manifestParsers = map[string]manifestParser{
	"package.json":     parsePackageJSON,
	"requirements.txt": parseRequirements,
	"pom.xml":          parsePOM,
	"go.mod":           parseGoMod,
	"Cargo.toml":       parseCargo,
	"pyproject.toml":   parsePyProject,
	"pubspec.yaml":     parsePubspec,
	"setup.py":         parseSetupPy,
	"build.gradle":     parseGradle,
	"build.gradle.kts": parseGradle,
}

// ParseManifest parses a manifest by base name. Unknown manifests (lock
// files, build descriptors without a parser) yield an empty Manifest.
func ParseManifest(name string, content []byte) (Manifest, error) {
	parse, ok := manifestParsers[name]
	if !ok {
		return Manifest{}, nil
	}
	m, err := parse(content)
	if err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return m, nil
}

func mapKeys[V any](maps ...map[string]V) []string {
	var keys []string
	for _, m := range maps {
		for k := range m {
			keys = append(keys, k)
		}
	}
	return keys
}

func parsePackageJSON(content []byte) (Manifest, error) {
	var pkg struct {
		Name                 string            `json:"name"`
		Dependencies         map[string]string `json:"dependencies"`
		DevDependencies      map[string]string `json:"devDependencies"`
		PeerDependencies     map[string]string `json:"peerDependencies"`
		OptionalDependencies map[string]string `json:"optionalDependencies"`
	}
	if err := json.Unmarshal(content, &pkg); err != nil {
		return Manifest{}, err
	}
	return Manifest{
		Module:       pkg.Name,
		Dependencies: mapKeys(pkg.Dependencies, pkg.DevDependencies, pkg.PeerDependencies, pkg.OptionalDependencies),
	}, nil
}

// requirementName extracts the distribution name from a PEP 508 requirement
var requirementName = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._-]*)`)

func parseRequirements(content []byte) (Manifest, error) {
	var m Manifest
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		if match := requirementName.FindStringSubmatch(line); match != nil {
			m.Dependencies = append(m.Dependencies, match[1])
		}
	}
	return m, scanner.Err()
}

func parsePOM(content []byte) (Manifest, error) {
	type coordinate struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
	}
	var pom struct {
		coordinate
		Parent       coordinate   `xml:"parent"`
		Dependencies []coordinate `xml:"dependencies>dependency"`
	}
	if err := xml.Unmarshal(content, &pom); err != nil {
		return Manifest{}, err
	}

	var m Manifest
	group := pom.GroupID
	if group == "" {
		group = pom.Parent.GroupID
	}
	if pom.ArtifactID != "" {
		m.Module = group + ":" + pom.ArtifactID
	}
	for _, d := range pom.Dependencies {
		if d.ArtifactID == "" {
			continue
		}
		m.Dependencies = append(m.Dependencies, d.GroupID+":"+d.ArtifactID)
	}
	return m, nil
}

func parseGoMod(content []byte) (Manifest, error) {
	f, err := modfile.ParseLax("go.mod", content, nil)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if f.Module != nil {
		m.Module = f.Module.Mod.Path
	}
	for _, r := range f.Require {
		m.Dependencies = append(m.Dependencies, r.Mod.Path)
	}
	return m, nil
}

func parseCargo(content []byte) (Manifest, error) {
	var cargo struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
		Dependencies      map[string]any `toml:"dependencies"`
		DevDependencies   map[string]any `toml:"dev-dependencies"`
		BuildDependencies map[string]any `toml:"build-dependencies"`
	}
	if _, err := toml.Decode(string(content), &cargo); err != nil {
		return Manifest{}, err
	}
	return Manifest{
		Module:       cargo.Package.Name,
		Dependencies: mapKeys(cargo.Dependencies, cargo.DevDependencies, cargo.BuildDependencies),
	}, nil
}

func parsePyProject(content []byte) (Manifest, error) {
	var py struct {
		Project struct {
			Name                 string              `toml:"name"`
			Dependencies         []string            `toml:"dependencies"`
			OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Name            string         `toml:"name"`
				Dependencies    map[string]any `toml:"dependencies"`
				DevDependencies map[string]any `toml:"dev-dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := gotoml.Unmarshal(content, &py); err != nil {
		return Manifest{}, err
	}

	m := Manifest{Module: py.Project.Name}
	if m.Module == "" {
		m.Module = py.Tool.Poetry.Name
	}
	reqs := py.Project.Dependencies
	for _, extra := range py.Project.OptionalDependencies {
		reqs = append(reqs, extra...)
	}
	for _, req := range reqs {
		if match := requirementName.FindStringSubmatch(req); match != nil {
			m.Dependencies = append(m.Dependencies, match[1])
		}
	}
	for _, name := range mapKeys(py.Tool.Poetry.Dependencies, py.Tool.Poetry.DevDependencies) {
		if name != "python" {
			m.Dependencies = append(m.Dependencies, name)
		}
	}
	return m, nil
}

func parsePubspec(content []byte) (Manifest, error) {
	var pub struct {
		Name            string         `yaml:"name"`
		Dependencies    map[string]any `yaml:"dependencies"`
		DevDependencies map[string]any `yaml:"dev_dependencies"`
	}
	if err := yaml.Unmarshal(content, &pub); err != nil {
		return Manifest{}, err
	}
	return Manifest{
		Module:       pub.Name,
		Dependencies: mapKeys(pub.Dependencies, pub.DevDependencies),
	}, nil
}

var (
	setupRequires = regexp.MustCompile(`(?s)install_requires\s*=\s*\[(.*?)\]`)
	quoted        = regexp.MustCompile(`['"]([^'"]+)['"]`)
	setupName     = regexp.MustCompile(`\bname\s*=\s*['"]([^'"]+)['"]`)
)

func parseSetupPy(content []byte) (Manifest, error) {
	var m Manifest
	if match := setupName.FindSubmatch(content); match != nil {
		m.Module = string(match[1])
	}
	block := setupRequires.FindSubmatch(content)
	if block == nil {
		return m, nil
	}
	for _, q := range quoted.FindAllSubmatch(block[1], -1) {
		if match := requirementName.FindStringSubmatch(string(q[1])); match != nil {
			m.Dependencies = append(m.Dependencies, match[1])
		}
	}
	return m, nil
}

var gradleDependency = regexp.MustCompile(
	`\b(?:implementation|api|compileOnly|runtimeOnly|testImplementation|kapt|annotationProcessor)\s*\(?\s*['"]([^:'"]+):([^:'"]+)`)

func parseGradle(content []byte) (Manifest, error) {
	var m Manifest
	for _, match := range gradleDependency.FindAllSubmatch(content, -1) {
		m.Dependencies = append(m.Dependencies, string(match[1])+":"+string(match[2]))
	}
	return m, nil
}
