package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Well-known assistant IDs on the agent runtime.
const (
	AssistantTask          = "task_assistant"
	AssistantTranslationA1 = "task_translation_a1"
	AssistantTranslationA2 = "task_translation_a2"
)

// Assistant describes one agent graph the orchestrator can run against.
type Assistant struct {
	// Graph is the graph name on the agent runtime. Defaults to the
	// assistant ID when empty.
	Graph string `yaml:"graph"`
	// Collector names the chunk collector used to assemble the final
	// result: "chat" or "translation".
	Collector string `yaml:"collector"`
	// HITL marks assistants whose runs may pause for human input.
	HITL bool `yaml:"hitl"`
}

// AssistantRegistry maps assistant IDs to their configuration.
type AssistantRegistry map[string]Assistant

// DefaultAssistants returns the built-in registry.
func DefaultAssistants() AssistantRegistry {
	return AssistantRegistry{
		AssistantTask:          {Collector: "chat", HITL: true},
		AssistantTranslationA1: {Collector: "translation"},
		AssistantTranslationA2: {Collector: "translation"},
	}
}

// LoadAssistants returns the built-in registry, optionally extended and
// overridden by a YAML file of the form:
//
//	assistants:
//	  task_translation_a2:
//	    graph: translation_v2
//	    collector: translation
func LoadAssistants(path string) (AssistantRegistry, error) {
	reg := DefaultAssistants()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading assistants config: %w", err)
	}

	var file struct {
		Assistants AssistantRegistry `yaml:"assistants"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing assistants config: %w", err)
	}

	for id, a := range file.Assistants {
		reg[id] = a
	}
	return reg, nil
}

// Lookup resolves an assistant ID, returning its graph name on the runtime.
func (r AssistantRegistry) Lookup(id string) (Assistant, bool) {
	a, ok := r[id]
	if ok && a.Graph == "" {
		a.Graph = id
	}
	return a, ok
}
