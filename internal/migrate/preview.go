package migrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/glueport/glueport/internal/attachments"
	"github.com/glueport/glueport/internal/export"
	"github.com/glueport/glueport/internal/platform"
)

// Resource types passwords may reference through resource_type.
var passwordResourceTypes = map[string]bool{
	"configuration":  true,
	"document":       true,
	"password":       true,
	"location":       true,
	"flexible asset": true,
}

// BuildPlan parses an export, matches its organizations against the
// destination, infers custom-asset schemas, scans and validates
// attachments, and collects advisory warnings. The result is everything
// `run` needs besides the live API.
func BuildPlan(exportPath string, client *platform.Client, logger func(string)) (*Plan, *export.Export, error) {
	logger("Parsing export at " + exportPath + "...")
	ex, err := export.ParseExport(exportPath)
	if err != nil {
		return nil, nil, err
	}
	logger(fmt.Sprintf("  %d organizations, %d locations, %d configurations, %d documents, %d passwords, %d custom asset types",
		len(ex.Organizations), len(ex.Locations), len(ex.Configurations),
		len(ex.Documents), len(ex.Passwords), len(ex.AssetTypes)))

	plan := &Plan{
		ExportPath:  exportPath,
		GeneratedAt: time.Now().UTC(),
		Warnings:    append([]string(nil), ex.Warnings...),
		Counts: map[string]int{
			"organizations":  len(ex.Organizations),
			"locations":      len(ex.Locations),
			"configurations": len(ex.Configurations),
			"documents":      len(ex.Documents),
			"passwords":      len(ex.Passwords),
		},
	}

	logger("Fetching destination organizations...")
	existing, err := client.GetAll(platform.PathOrganizations)
	if err != nil {
		return nil, nil, fmt.Errorf("listing destination organizations: %w", err)
	}
	byName := make(map[string]string, len(existing))
	for _, r := range existing {
		byName[platform.Name(r)] = platform.IDString(r["id"])
	}
	for _, org := range ex.Organizations {
		op := OrganizationPlan{SourceID: org.ID, Name: org.Name, Action: ActionCreate}
		if destID, ok := byName[org.Name]; ok {
			op.Action = ActionExists
			op.DestID = destID
			logger(fmt.Sprintf("  %s: exists (dest ID %s)", org.Name, destID))
		}
		plan.Organizations = append(plan.Organizations, op)
	}

	for _, at := range ex.AssetTypes {
		plan.AssetTypes = append(plan.AssetTypes, AssetTypePlan{
			Name:    at.Name,
			Key:     at.Key,
			File:    at.File,
			Records: len(at.Records),
			Fields:  at.Fields,
		})
		plan.Counts["custom_assets"] += len(at.Records)
	}

	logger("Scanning attachments...")
	scanner := attachments.NewScanner(exportPath)
	scan, err := scanner.Scan()
	if err != nil {
		return nil, nil, fmt.Errorf("scanning attachments: %w", err)
	}
	plan.Attachments = attachments.Validate(scan, MigratingSets(ex))
	logger(fmt.Sprintf("  %d files, %s total",
		plan.Attachments.Totals.TotalFiles,
		attachments.FormatSize(plan.Attachments.Totals.TotalSizeBytes)))

	for entityType, ids := range plan.Attachments.Orphaned {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"%d orphaned attachment id(s) under %s: %s",
			len(ids), entityType, strings.Join(ids, ", ")))
	}

	collectEntityWarnings(ex, scanner, plan)
	return plan, ex, nil
}

// MigratingSets builds the entity type → id set map used to classify
// discovered attachments. Custom asset exports are addressable by their
// file base name and field key; the legacy floor_plans_photos directory
// matches any custom asset id.
func MigratingSets(ex *export.Export) map[string]map[string]bool {
	sets := map[string]map[string]bool{
		"organizations":  {},
		"locations":      {},
		"configurations": {},
		"documents":      {},
		"passwords":      {},
	}
	for _, o := range ex.Organizations {
		sets["organizations"][o.ID] = true
	}
	for _, l := range ex.Locations {
		sets["locations"][l.ID] = true
	}
	for _, c := range ex.Configurations {
		sets["configurations"][c.ID] = true
	}
	for _, d := range ex.Documents {
		sets["documents"][d.ID] = true
	}
	for _, p := range ex.Passwords {
		sets["passwords"][p.ID] = true
	}

	legacy := make(map[string]bool)
	for _, at := range ex.AssetTypes {
		ids := make(map[string]bool, len(at.Records))
		for _, rec := range at.Records {
			ids[rec.ID] = true
			legacy[rec.ID] = true
		}
		sets[strings.TrimSuffix(at.File, ".csv")] = ids
		sets[at.Key] = ids
	}
	if len(legacy) > 0 {
		sets["floor_plans_photos"] = legacy
	}
	return sets
}

// collectEntityWarnings adds advisory warnings the operator should see
// before running: entities with empty required fields, unknown password
// resource types, and documents whose on-disk folder is missing.
func collectEntityWarnings(ex *export.Export, scanner *attachments.Scanner, plan *Plan) {
	for _, org := range ex.Organizations {
		if org.Name == "" {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("organization %s has no name", org.ID))
		}
	}
	for _, loc := range ex.Locations {
		if loc.Name == "" {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("location %s has no name", loc.ID))
		}
	}
	for _, cfg := range ex.Configurations {
		if cfg.Name == "" {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("configuration %s has no name", cfg.ID))
		}
	}
	for _, pw := range ex.Passwords {
		if pw.Name == "" {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("password %s has no name", pw.ID))
		}
		if pw.Password == "" {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("password %s has no password value", pw.ID))
		}
		if pw.ResourceType != "" && !passwordResourceTypes[strings.ToLower(pw.ResourceType)] {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"password %s references unknown resource type %q", pw.ID, pw.ResourceType))
		}
	}
	for _, doc := range ex.Documents {
		if doc.Name == "" {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("document %s has no name", doc.ID))
		}
		if _, ok := scanner.FindDocumentFolder(doc.ID); !ok {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"document %s (%s) has no folder under documents/", doc.ID, doc.Name))
		}
	}
}
