package dbman

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRenames reads a rename map from a YAML file. The document maps table
// names to old-name/new-name pairs; an entry whose key equals the table
// name renames the table itself. A missing file yields an empty map.
func LoadRenames(path string) (Renames, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Renames{}, nil
		}
		return nil, fmt.Errorf("failed to read rename map: %w", err)
	}

	var renames Renames
	if err := yaml.Unmarshal(data, &renames); err != nil {
		return nil, fmt.Errorf("failed to parse rename map: %w", err)
	}
	if renames == nil {
		renames = Renames{}
	}
	return renames, nil
}
