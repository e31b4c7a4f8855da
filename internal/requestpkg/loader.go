package requestpkg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadDir loads every request package set from dir. Each .yaml file is
// one Set. A missing directory yields no sets.
func LoadDir(dir string) ([]Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read request packages dir: %w", err)
	}
	var sets []Set
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" && filepath.Ext(e.Name()) != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var s Set
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if s.Service == "" {
			return nil, fmt.Errorf("%s: missing service name", path)
		}
		for i, p := range s.Packages {
			if p.Action == "" || p.URL == "" {
				return nil, fmt.Errorf("%s: packages[%d]: action and url are required", path, i)
			}
		}
		sets = append(sets, s)
	}
	return sets, nil
}
