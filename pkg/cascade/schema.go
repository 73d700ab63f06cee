package cascade

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type schemaFile struct {
	Models []schemaModel `yaml:"models"`
}

type schemaModel struct {
	Name       string                    `yaml:"name"`
	Table      string                    `yaml:"table"`
	PrimaryKey string                    `yaml:"primaryKey"`
	Fields     []Field                   `yaml:"fields"`
	Relations  map[string]schemaRelation `yaml:"relations"`
	Settings   Settings                  `yaml:"settings"`
}

type schemaRelation struct {
	Type       string         `yaml:"type"`
	Target     string         `yaml:"target"`
	ForeignKey string         `yaml:"foreignKey"`
	KeyFrom    string         `yaml:"keyFrom"`
	Through    string         `yaml:"through"`
	Match      map[string]any `yaml:"match"`
	Options    map[string]any `yaml:"options"`
}

// LoadSchemaFile reads model descriptors from a YAML file.
func LoadSchemaFile(path string) ([]*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes model descriptors from YAML.
func ParseSchema(data []byte) ([]*Model, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	seen := make(map[string]struct{}, len(sf.Models))
	models := make([]*Model, 0, len(sf.Models))
	for i, sm := range sf.Models {
		if sm.Name == "" {
			return nil, fmt.Errorf("%w: model #%d has no name", ErrInvalidSchema, i)
		}
		if _, dup := seen[sm.Name]; dup {
			return nil, fmt.Errorf("%w: model %q declared twice", ErrInvalidSchema, sm.Name)
		}
		seen[sm.Name] = struct{}{}

		m := &Model{
			Name:       sm.Name,
			Table:      sm.Table,
			PrimaryKey: sm.PrimaryKey,
			Fields:     make(map[string]Field, len(sm.Fields)),
			Relations:  make(map[string]Relation, len(sm.Relations)),
			Settings:   sm.Settings,
		}
		for _, f := range sm.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("%w: model %q has a field without name", ErrInvalidSchema, sm.Name)
			}
			m.Fields[f.Name] = f
		}
		for name, sr := range sm.Relations {
			t, err := ParseRelationType(sr.Type)
			if err != nil {
				return nil, fmt.Errorf("model %q relation %q: %w", sm.Name, name, err)
			}
			m.Relations[name] = Relation{
				Type:       t,
				Options:    sr.Options,
				Target:     sr.Target,
				ForeignKey: sr.ForeignKey,
				KeyFrom:    sr.KeyFrom,
				Through:    sr.Through,
				Match:      sr.Match,
			}
		}
		models = append(models, m)
	}
	return models, nil
}
