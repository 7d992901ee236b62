package registry

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolDefinitionFile is the on-disk YAML shape for a tool definition
// discovered by LoadFromDirectory. Handlers are resolved by name from
// handlers, the same way Import rebinds them.
type ToolDefinitionFile struct {
	Name         string   `yaml:"name"`
	Category     string   `yaml:"category"`
	Version      string   `yaml:"version"`
	InputTypes   []string `yaml:"inputTypes"`
	OutputTypes  []string `yaml:"outputTypes"`
	Capabilities []string `yaml:"capabilities"`
	Keywords     []string `yaml:"keywords"`
	Description  string   `yaml:"description"`
	Critical     bool     `yaml:"critical"`
}

// LoadFromDirectory discovers *.yaml/*.yml tool definitions under dir and
// registers each with the Execute handle from handlers looked up by name.
// Unparseable files or definitions with no bound handler are logged and
// skipped rather than aborting the whole load. Returns the count registered.
func (r *Registry) LoadFromDirectory(dir string, handlers HandlerTable) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("failed to read tool definition", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}

		var def ToolDefinitionFile
		if err := yaml.Unmarshal(data, &def); err != nil {
			r.logger.Warn("failed to parse tool definition", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}

		handler, ok := handlers[strings.ToLower(def.Name)]
		if !ok {
			r.logger.Warn("no handler bound for discovered tool definition", map[string]interface{}{"path": path, "name": def.Name})
			continue
		}

		_, err = r.Register(Tool{
			Name: def.Name, Category: def.Category, Version: def.Version,
			InputTypes: def.InputTypes, OutputTypes: def.OutputTypes,
			Capabilities: def.Capabilities, Keywords: def.Keywords,
			Description: def.Description, Critical: def.Critical,
			Execute: handler,
		})
		if err != nil {
			r.logger.Warn("failed to register discovered tool", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}
		registered++
	}
	return registered, nil
}
