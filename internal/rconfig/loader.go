package rconfig

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Load parses the HCL document at path into a Config. Bootstrap config
// is read-only input here; there is no comment-preserving rewrite pass
// since the router never writes its own configuration back out.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("rconfig: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadBytes parses an in-memory HCL document, named filename for
// diagnostics, the way tests exercise configuration without a file on
// disk.
func LoadBytes(data []byte, filename string) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, fmt.Errorf("rconfig: decode %s: %w", filename, err)
	}
	return &cfg, nil
}
