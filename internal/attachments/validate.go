package attachments

import (
	"fmt"
	"sort"
)

// EntityAttachmentStats aggregates file count and byte size.
type EntityAttachmentStats struct {
	Count     int   `json:"count" yaml:"count"`
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`
}

// AttachmentStats summarizes a whole scan.
type AttachmentStats struct {
	TotalFiles     int                              `json:"total_files" yaml:"total_files"`
	TotalSizeBytes int64                            `json:"total_size_bytes" yaml:"total_size_bytes"`
	ByEntityType   map[string]EntityAttachmentStats `json:"by_entity_type" yaml:"by_entity_type"`
}

// AttachmentValidationResult partitions discovered (type, id) keys into
// matched (owned by an entity being migrated) and orphaned. The two sets
// are disjoint and together cover every discovered key.
type AttachmentValidationResult struct {
	Matched  map[string]EntityAttachmentStats `json:"matched" yaml:"matched"`
	Orphaned map[string][]string              `json:"orphaned" yaml:"orphaned"`
	Totals   AttachmentStats                  `json:"totals" yaml:"totals"`
}

// Validate classifies every discovered attachment against the set of
// entities being migrated (entity type → id set).
func Validate(result *ScanResult, migrating map[string]map[string]bool) AttachmentValidationResult {
	v := AttachmentValidationResult{
		Matched:  make(map[string]EntityAttachmentStats),
		Orphaned: make(map[string][]string),
		Totals: AttachmentStats{
			ByEntityType: make(map[string]EntityAttachmentStats),
		},
	}

	for entityType, byID := range result.Files {
		ids := migrating[entityType]
		for id, files := range byID {
			var size int64
			for _, f := range files {
				size += f.Size
			}

			total := v.Totals.ByEntityType[entityType]
			total.Count += len(files)
			total.SizeBytes += size
			v.Totals.ByEntityType[entityType] = total
			v.Totals.TotalFiles += len(files)
			v.Totals.TotalSizeBytes += size

			if ids != nil && ids[id] {
				stats := v.Matched[entityType]
				stats.Count += len(files)
				stats.SizeBytes += size
				v.Matched[entityType] = stats
			} else {
				v.Orphaned[entityType] = append(v.Orphaned[entityType], id)
			}
		}
	}

	for entityType := range v.Orphaned {
		sort.Strings(v.Orphaned[entityType])
	}
	return v
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a byte count using binary (1024) unit steps, with
// no decimals for bytes and one decimal above that.
func FormatSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, sizeUnits[unit])
}
