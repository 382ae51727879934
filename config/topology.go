package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// topologyFile is a small standalone YAML document that pins the graph
// wiring of a deployment independently of the main config file, so a
// topology can be swapped without touching server or storage settings.
type topologyFile struct {
	Variant       string        `yaml:"variant"`
	MaxSteps      int           `yaml:"max_steps"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	BranchTimeout time.Duration `yaml:"branch_timeout"`
}

// applyTopologyFile overlays workflow settings from TopologyFile.
// Zero values in the file leave the existing setting untouched.
func (c *Config) applyTopologyFile() error {
	data, err := os.ReadFile(c.Workflow.TopologyFile)
	if err != nil {
		return fmt.Errorf("failed to read topology file: %w", err)
	}

	var tf topologyFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("failed to parse topology file %s: %w", c.Workflow.TopologyFile, err)
	}

	if tf.Variant != "" {
		c.Workflow.Variant = tf.Variant
	}
	if tf.MaxSteps > 0 {
		c.Workflow.MaxSteps = tf.MaxSteps
	}
	if tf.MaxConcurrent > 0 {
		c.Workflow.MaxConcurrent = tf.MaxConcurrent
	}
	if tf.BranchTimeout > 0 {
		c.Workflow.BranchTimeout = tf.BranchTimeout
	}
	return nil
}
