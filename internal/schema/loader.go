package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every *.yaml / *.yml schema document in dir and registers it.
// A document may hold one schema or a list of schemas. Seed files let a test
// environment ship canned entity types without calling the API.
func (r *Registry) LoadDir(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		n, err := r.LoadFile(filepath.Join(dir, name))
		if err != nil {
			return loaded, err
		}
		loaded += n
	}
	return loaded, nil
}

// LoadFile registers all schemas declared in one YAML file.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var many []*EntitySchema
	if err := yaml.Unmarshal(data, &many); err != nil {
		var one EntitySchema
		if err2 := yaml.Unmarshal(data, &one); err2 != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		many = []*EntitySchema{&one}
	}

	loaded := 0
	for _, s := range many {
		if s == nil {
			continue
		}
		if _, err := r.Create(s); err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}
