package service

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileEntry describes one service in a YAML services file.
type FileEntry struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	URLPatterns []string `yaml:"url_patterns"`
	Methods     []string `yaml:"methods,omitempty"`
	URLContains []string `yaml:"url_contains,omitempty"`
}

// File is the top-level YAML services document.
type File struct {
	Services []FileEntry `yaml:"services"`
}

// LoadFile reads a YAML services file. The listed order is the match priority.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("services file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML services document.
func Parse(data []byte) ([]Descriptor, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("services file: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("services file: no services defined")
	}

	seen := make(map[string]bool, len(f.Services))
	out := make([]Descriptor, 0, len(f.Services))
	for i, e := range f.Services {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("services file: service[%d] missing id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("services file: service[%d] duplicate id %q", i, id)
		}
		seen[id] = true
		if len(e.URLPatterns) == 0 {
			return nil, fmt.Errorf("services file: service[%d] (%s) missing url_patterns", i, id)
		}
		name := e.Name
		if name == "" {
			name = id
		}
		out = append(out, Descriptor{
			ID:          ID(id),
			Name:        name,
			URLPatterns: append([]string(nil), e.URLPatterns...),
			Match:       entryPredicate(e.Methods, e.URLContains),
		})
	}
	return out, nil
}

func entryPredicate(methods, fragments []string) func(string, string) bool {
	if len(methods) == 0 {
		return methodAndContains("", fragments...)
	}
	preds := make([]func(string, string) bool, 0, len(methods))
	for _, m := range methods {
		preds = append(preds, methodAndContains(strings.TrimSpace(m), fragments...))
	}
	return func(url, method string) bool {
		for _, p := range preds {
			if p(url, method) {
				return true
			}
		}
		return false
	}
}
