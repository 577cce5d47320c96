package shard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultKeys are the entry names that denote the default target list.
var DefaultKeys = []string{"default", "*"}

// UnmarshalYAML accepts either "connection:table" or a mapping with
// connection and table keys.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseTarget(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*t = parsed
		return nil
	case yaml.MappingNode:
		var raw struct {
			Connection string `yaml:"connection"`
			Table      string `yaml:"table"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*t = Target{Connection: raw.Connection, Table: raw.Table}
		return nil
	}
	return fmt.Errorf("line %d: shard target must be a string or a mapping", node.Line)
}

type rawMap struct {
	Key     string    `yaml:"key"`
	Buckets int       `yaml:"buckets"`
	Targets yaml.Node `yaml:"targets"`
}

// LoadYAML parses shard maps keyed by entity type name. Entry order inside
// each targets mapping is preserved.
//
//	order:
//	  key: user_id
//	  targets:
//	    default: [db:order]
//	    "1": [dbA:order]
//	    "2": {connection: dbB, table: order}
func LoadYAML(data []byte) (map[string]Map, error) {
	var raw map[string]rawMap
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse shard maps: %w", err)
	}

	maps := make(map[string]Map, len(raw))
	for name, rm := range raw {
		m := Map{Key: rm.Key, Buckets: rm.Buckets}

		if rm.Targets.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("shard map %s: targets must be a mapping", name)
		}
		content := rm.Targets.Content
		for i := 0; i+1 < len(content); i += 2 {
			entryKey := content[i].Value
			targets, err := decodeTargets(content[i+1])
			if err != nil {
				return nil, fmt.Errorf("shard map %s, entry %q: %w", name, entryKey, err)
			}
			if isDefaultKey(entryKey) {
				m.Default = append(m.Default, targets...)
				continue
			}
			m.Entries = append(m.Entries, Entry{Value: entryKey, Targets: targets})
		}
		maps[name] = m
	}
	return maps, nil
}

// LoadFile reads shard maps from a YAML file and registers each of them.
func LoadFile(path string, reg *Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read shard maps: %w", err)
	}
	maps, err := LoadYAML(data)
	if err != nil {
		return err
	}
	for name, m := range maps {
		if _, err := reg.Register(name, m); err != nil {
			return err
		}
	}
	return nil
}

func decodeTargets(node *yaml.Node) ([]Target, error) {
	if node.Kind == yaml.SequenceNode {
		var targets []Target
		if err := node.Decode(&targets); err != nil {
			return nil, err
		}
		return targets, nil
	}
	var t Target
	if err := node.Decode(&t); err != nil {
		return nil, err
	}
	return []Target{t}, nil
}

func isDefaultKey(key string) bool {
	for _, k := range DefaultKeys {
		if k == key {
			return true
		}
	}
	return false
}
