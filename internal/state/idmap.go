package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Id-mapping categories. Organizations are registered under both their
// numeric id and their name, since the CSVs reference orgs by name.
const (
	MapOrganization      = "organization"
	MapLocation          = "location"
	MapConfiguration     = "configuration"
	MapConfigurationType = "configuration_type"
	MapCustomAssetType   = "custom_asset_type"
	MapCustomAsset       = "custom_asset"
	MapDocument          = "document"
	MapPassword          = "password"
)

// IdMapper translates source identifiers to destination ids, per
// category. Destination ids are strings so dry-run placeholders flow
// through the same table as real ids.
type IdMapper struct {
	mu   sync.Mutex
	maps map[string]map[string]string
}

// NewIdMapper creates an empty mapper.
func NewIdMapper() *IdMapper {
	return &IdMapper{maps: make(map[string]map[string]string)}
}

// Set records a source key → destination id mapping.
func (m *IdMapper) Set(category, sourceKey, destID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maps[category] == nil {
		m.maps[category] = make(map[string]string)
	}
	m.maps[category][sourceKey] = destID
}

// Get resolves a source key, returning false when unmapped.
func (m *IdMapper) Get(category, sourceKey string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.maps[category][sourceKey]
	return id, ok
}

// Count returns the number of mappings in a category.
func (m *IdMapper) Count(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.maps[category])
}

// IDMapPath returns the companion id-map file path for a state file.
func IDMapPath(statePath string) string {
	return statePath + ".idmap.json"
}

// Save writes the mapper atomically next to the state file.
func (m *IdMapper) Save(path string) error {
	m.mu.Lock()
	snapshot := make(map[string]map[string]string, len(m.maps))
	for category, entries := range m.maps {
		cp := make(map[string]string, len(entries))
		for k, v := range entries {
			cp[k] = v
		}
		snapshot[category] = cp
	}
	m.mu.Unlock()
	return writeJSONAtomic(path, snapshot)
}

// LoadIdMapper reads a previously saved id map. A missing file yields
// an empty mapper, since the first run has nothing to resume.
func LoadIdMapper(path string) (*IdMapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIdMapper(), nil
		}
		return nil, fmt.Errorf("reading id map: %w", err)
	}
	var maps map[string]map[string]string
	if err := json.Unmarshal(data, &maps); err != nil {
		return nil, fmt.Errorf("parsing id map %s: %w", path, err)
	}
	m := NewIdMapper()
	for category, entries := range maps {
		m.maps[category] = entries
	}
	return m, nil
}
