package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

// Parser answers dotted-path lookups ("backend.ranking.schedule") against the raw YAML tree.
type Parser struct {
	data map[string]interface{}
}

func NewParser(data map[string]interface{}) *Parser {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Parser{data: data}
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	value := p.navigateToPath(path)
	if value == nil {
		return defaultValue
	}
	return value
}

func (p *Parser) GetAs(path string, target interface{}) error {
	value := p.navigateToPath(path)
	if value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	valueBytes, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}

	if err = yaml.Unmarshal(valueBytes, target); err != nil {
		return types.WrapError(err, "failed to unmarshal config value")
	}

	return nil
}

func (p *Parser) GetAllPaths() []string {
	var paths []string
	collectPaths("", p.data, &paths)
	sort.Strings(paths)
	return paths
}

func collectPaths(prefix string, node map[string]interface{}, out *[]string) {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child, ok := value.(map[string]interface{}); ok {
			collectPaths(path, child, out)
			continue
		}
		*out = append(*out, path)
	}
}

func (p *Parser) navigateToPath(path string) interface{} {
	if path == "" {
		return p.data
	}

	var current interface{} = p.data

	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			val, exists := v[part]
			if !exists {
				return nil
			}
			current = val
		case map[interface{}]interface{}:
			val, exists := v[part]
			if !exists {
				return nil
			}
			current = val
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}

	return current
}
