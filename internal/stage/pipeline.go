package stage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// pipelineFile is the YAML schema for an externally defined pipeline.
type pipelineFile struct {
	Pipeline []pipelineStage `yaml:"pipeline"`
}

type pipelineStage struct {
	Name           string `yaml:"name"`
	Handler        string `yaml:"handler"`
	ResourceClass  string `yaml:"resource_class"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	NonIdempotent  bool   `yaml:"non_idempotent"`
}

// LoadPipeline parses a YAML pipeline definition into descriptors. Ordinals
// follow file order.
func LoadPipeline(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pipeline file %s: %w", path, err)
	}
	if len(file.Pipeline) == 0 {
		return nil, fmt.Errorf("pipeline file %s defines no stages", path)
	}

	descs := make([]Descriptor, 0, len(file.Pipeline))
	for i, entry := range file.Pipeline {
		class := ResourceClass(entry.ResourceClass)
		if entry.ResourceClass == "" {
			class = ClassCPU
		}
		if entry.TimeoutSeconds <= 0 {
			return nil, fmt.Errorf("pipeline stage %d (%s): timeout_seconds must be positive", i, entry.Name)
		}
		descs = append(descs, Descriptor{
			Name:          entry.Name,
			Class:         class,
			MaxRetries:    entry.MaxRetries,
			Timeout:       time.Duration(entry.TimeoutSeconds) * time.Second,
			NonIdempotent: entry.NonIdempotent,
			HandlerName:   entry.Handler,
		})
	}
	return descs, nil
}

// DefaultPipeline returns the built-in five-stage video pipeline used when no
// pipeline file is configured.
func DefaultPipeline() []Descriptor {
	return []Descriptor{
		{Name: "validate", Class: ClassCPU, MaxRetries: 0, Timeout: 2 * time.Minute},
		{Name: "transcode", Class: ClassCPU, MaxRetries: 2, Timeout: 30 * time.Minute},
		{Name: "transcribe", Class: ClassGPU, MaxRetries: 2, Timeout: 30 * time.Minute},
		{Name: "thumbnail", Class: ClassCPU, MaxRetries: 2, Timeout: 5 * time.Minute},
		{Name: "package", Class: ClassCPU, MaxRetries: 1, Timeout: 10 * time.Minute, NonIdempotent: true},
	}
}
