package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/query"
)

// fileConfig is the on-disk yaml shape of a database config: storage
// settings plus the collections/indexes to register, grounded in the
// teacher's Config but extended with the index declarations SPEC_FULL.md's
// collection model requires.
type fileConfig struct {
	Path        string             `yaml:"path"`
	Debug       bool               `yaml:"debug"`
	NoTableScan bool               `yaml:"noTableScan"`
	LogLevel    string             `yaml:"logLevel"`
	Collections []collectionConfig `yaml:"collections"`
}

type collectionConfig struct {
	Name        string        `yaml:"name"`
	PrimaryKey  string        `yaml:"primaryKey"`
	GenerateIDs bool          `yaml:"generateIds"`
	SchemaFile  string        `yaml:"schemaFile,omitempty"`
	Indexes     []indexConfig `yaml:"indexes"`
}

type indexConfig struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
	Desc   []string `yaml:"descending"`
	Unique bool     `yaml:"unique"`
	Text   bool     `yaml:"text"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(bits, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isDescending(desc []string, field string) bool {
	for _, f := range desc {
		if f == field {
			return true
		}
	}
	return false
}

// collections converts the file's index declarations into registered
// collection.Collection instances.
func (c *fileConfig) collections() ([]*collection.Collection, error) {
	out := make([]*collection.Collection, 0, len(c.Collections))
	for _, cc := range c.Collections {
		opts := make([]collection.Option, 0, len(cc.Indexes)+2)
		for _, ic := range cc.Indexes {
			spec := collection.IndexSpec{Name: ic.Name, Unique: ic.Unique}
			if ic.Text {
				spec.Plugin = &collection.PluginSpec{Name: "text"}
			}
			for _, f := range ic.Fields {
				dir := query.OrderAsc
				if isDescending(ic.Desc, f) {
					dir = query.OrderDesc
				}
				spec.Fields = append(spec.Fields, collection.FieldDir{Field: f, Direction: dir})
			}
			opts = append(opts, collection.WithIndex(spec))
		}
		if cc.GenerateIDs {
			opts = append(opts, collection.WithGeneratedIDs())
		}
		if cc.SchemaFile != "" {
			bits, err := os.ReadFile(cc.SchemaFile)
			if err != nil {
				return nil, err
			}
			opts = append(opts, collection.WithSchema(bits))
		}
		out = append(out, collection.New(cc.Name, cc.PrimaryKey, opts...))
	}
	return out, nil
}
