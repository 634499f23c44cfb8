package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// ruleFile is the YAML document shape of one rule file.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Builtin returns the rules shipped with the scanner.
func Builtin() ([]Rule, error) {
	var out []Rule
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("rules: read builtin: %w", err)
	}
	for _, e := range entries {
		data, err := fs.ReadFile(builtinFS, "builtin/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("rules: read builtin %s: %w", e.Name(), err)
		}
		rules, err := parse(e.Name(), data)
		if err != nil {
			return nil, err
		}
		out = append(out, rules...)
	}
	return out, nil
}

// LoadDir parses every .yaml/.yml file under dir, sorted by name so the
// resulting rule order is stable. A missing directory is not an error;
// a malformed file is.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Rule
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("rules: read %s: %w", name, err)
		}
		rules, err := parse(name, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rules...)
	}
	return out, nil
}

func parse(name string, data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", name, err)
	}
	return f.Rules, nil
}
