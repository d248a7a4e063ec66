package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Core CSV files with fixed schemas. Any other *.csv in the export root
// is a custom-asset export.
var coreFiles = map[string]bool{
	"organizations.csv":  true,
	"configurations.csv": true,
	"documents.csv":      true,
	"locations.csv":      true,
	"passwords.csv":      true,
}

// Metadata columns excluded from custom-asset field inference.
var metadataColumns = map[string]bool{
	"id":              true,
	"organization":    true,
	"organization_id": true,
	"created_at":      true,
	"updated_at":      true,
	"archived":        true,
}

// ParseExport reads an export directory into memory. A missing or
// unparseable organizations.csv is fatal; missing optional core files
// are recorded as warnings.
func ParseExport(path string) (*Export, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("export path %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("export path %s is not a directory", path)
	}

	ex := &Export{Path: path}

	orgRows, err := readRows(filepath.Join(path, "organizations.csv"))
	if err != nil {
		return nil, fmt.Errorf("organizations.csv: %w", err)
	}
	seen := make(map[string]bool)
	for _, row := range orgRows {
		org := Organization{
			ID:          row["id"],
			Name:        row["name"],
			Description: row["description"],
			QuickNotes:  row["quick_notes"],
		}
		if org.Name != "" && seen[org.Name] {
			ex.Warnings = append(ex.Warnings, fmt.Sprintf("duplicate organization name %q in organizations.csv", org.Name))
		}
		seen[org.Name] = true
		ex.Organizations = append(ex.Organizations, org)
	}

	if rows, ok, err := readOptional(ex, filepath.Join(path, "locations.csv")); err != nil {
		return nil, err
	} else if ok {
		for _, row := range rows {
			ex.Locations = append(ex.Locations, Location{
				ID:           row["id"],
				Organization: row["organization"],
				Name:         row["name"],
				Address1:     row["address_1"],
				Address2:     row["address_2"],
				City:         row["city"],
				Region:       row["region"],
				PostalCode:   row["postal_code"],
				Country:      row["country"],
				Phone:        row["phone"],
				Fax:          row["fax"],
				Notes:        row["notes"],
			})
		}
	}

	if rows, ok, err := readOptional(ex, filepath.Join(path, "configurations.csv")); err != nil {
		return nil, err
	} else if ok {
		for _, row := range rows {
			ex.Configurations = append(ex.Configurations, Configuration{
				ID:                  row["id"],
				Organization:        row["organization"],
				Name:                row["name"],
				ConfigurationType:   row["configuration_type"],
				ConfigurationStatus: row["configuration_status"],
				Location:            row["location"],
				PrimaryIP:           row["primary_ip"],
				MACAddress:          row["mac_address"],
				SerialNumber:        row["serial_number"],
				AssetTag:            row["asset_tag"],
				Manufacturer:        row["manufacturer"],
				Model:               row["model"],
				OperatingSystem:     row["operating_system"],
				Notes:               row["notes"],
			})
		}
	}

	if rows, ok, err := readOptional(ex, filepath.Join(path, "documents.csv")); err != nil {
		return nil, err
	} else if ok {
		for _, row := range rows {
			ex.Documents = append(ex.Documents, Document{
				ID:           row["id"],
				Organization: row["organization"],
				Name:         row["name"],
				Public:       parseBool(row["public"]),
			})
		}
	}

	if rows, ok, err := readOptional(ex, filepath.Join(path, "passwords.csv")); err != nil {
		return nil, err
	} else if ok {
		for _, row := range rows {
			ex.Passwords = append(ex.Passwords, Password{
				ID:           row["id"],
				Organization: row["organization"],
				Name:         row["name"],
				Username:     row["username"],
				Password:     row["password"],
				URL:          row["url"],
				Notes:        row["notes"],
				ResourceType: row["resource_type"],
				ResourceID:   row["resource_id"],
			})
		}
	}

	if err := parseAssetTypes(ex); err != nil {
		return nil, err
	}

	return ex, nil
}

// readOptional reads a core CSV that may be absent. The second return is
// false when the file does not exist, in which case a warning is added.
func readOptional(ex *Export, path string) ([]map[string]string, bool, error) {
	rows, err := readRows(path)
	if err != nil {
		if os.IsNotExist(err) {
			ex.Warnings = append(ex.Warnings, fmt.Sprintf("%s not found; skipping", filepath.Base(path)))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows, true, nil
}

// parseAssetTypes reads every non-core CSV in the export root as a
// custom-asset export and infers its field schema.
func parseAssetTypes(ex *Export) error {
	entries, err := os.ReadDir(ex.Path)
	if err != nil {
		return fmt.Errorf("reading export directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") || coreFiles[strings.ToLower(e.Name())] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		headers, rows, err := readCSV(filepath.Join(ex.Path, name))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		at := AssetType{
			Name:   assetTypeName(name),
			Key:    FieldKey(assetTypeName(name)),
			File:   name,
			Fields: InferFields(headers, rows),
		}
		for _, row := range rows {
			rec := AssetRecord{
				ID:             row["id"],
				Organization:   row["organization"],
				OrganizationID: row["organization_id"],
				Values:         make(map[string]any),
			}
			for _, f := range at.Fields {
				v, err := decodeCell(row[strings.ToLower(f.Name)])
				if err != nil {
					return fmt.Errorf("%s: field %q of record %s: %w", name, f.Name, rec.ID, err)
				}
				if v != nil {
					rec.Values[f.Key] = v
				}
			}
			rec.Name = recordName(rec, at.Fields)
			at.Records = append(at.Records, rec)
		}
		ex.AssetTypes = append(ex.AssetTypes, at)
	}
	return nil
}

// decodeCell returns the cell value, decoding embedded JSON objects and
// arrays. Malformed embedded JSON is fatal. Empty cells return nil.
func decodeCell(v string) (any, error) {
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "{\"") || strings.HasPrefix(v, "[{") || strings.HasPrefix(v, "[\"") {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("malformed embedded JSON: %w", err)
		}
		return decoded, nil
	}
	return v, nil
}

// recordName picks the record's display name: the "name" field when one
// exists, else the first declared field with a string value, else the id.
func recordName(rec AssetRecord, fields []FieldDefinition) string {
	if n, ok := rec.Values["name"].(string); ok && n != "" {
		return n
	}
	for _, f := range fields {
		if s, ok := rec.Values[f.Key].(string); ok && s != "" {
			return s
		}
	}
	return rec.ID
}

// assetTypeName derives a display name from a CSV filename:
// "ssl-certificates.csv" → "Ssl Certificates".
func assetTypeName(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// readRows reads a CSV into header-keyed row maps. Headers are
// lowercased; values are trimmed exactly once with empty strings
// normalized to "".
func readRows(path string) ([]map[string]string, error) {
	_, rows, err := readCSV(path)
	return rows, err
}

func readCSV(path string) ([]string, []map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	r := csv.NewReader(strings.NewReader(decodeBytes(data)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	var rows []map[string]string
	for _, rec := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			row[strings.ToLower(h)] = v
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

// decodeBytes strips a UTF-8 BOM and falls back to latin-1 when the
// bytes are not valid UTF-8.
func decodeBytes(data []byte) string {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return string(data)
	}
	// latin-1: every byte maps directly to the same rune
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// parseBool accepts the loose boolean vocabulary used across IT Glue
// exports.
func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "yes", "1", "on", "enabled":
		return true
	}
	return false
}
