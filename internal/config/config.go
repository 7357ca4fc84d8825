// Package config loads the startup descriptor enumerating node ids,
// endpoints, and bootstrap/seed peers. This is the only state the core
// reads at startup; nothing is persisted across runs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeEntry is one node's entry in the descriptor.
type NodeEntry struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
}

// Descriptor is the full startup config file.
type Descriptor struct {
	Nodes     []NodeEntry `yaml:"nodes"`
	Bootstrap []string    `yaml:"bootstrap"`
}

// Load reads and parses a YAML descriptor from path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &d, nil
}

// Endpoint looks up a node id's registered endpoint.
func (d *Descriptor) Endpoint(nodeID string) (string, bool) {
	for _, n := range d.Nodes {
		if n.ID == nodeID {
			return n.Endpoint, true
		}
	}
	return "", false
}

// Validate checks the descriptor is usable: every bootstrap entry must
// name a node present in Nodes, and no node id may be empty or repeated.
func (d *Descriptor) Validate() error {
	seen := map[string]bool{}
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("config: node entry with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("config: duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	for _, b := range d.Bootstrap {
		if !seen[b] {
			return fmt.Errorf("config: bootstrap peer %q is not a declared node", b)
		}
	}
	return nil
}
