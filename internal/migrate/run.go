package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/glueport/glueport/internal/attachments"
	"github.com/glueport/glueport/internal/documents"
	"github.com/glueport/glueport/internal/export"
	"github.com/glueport/glueport/internal/platform"
	"github.com/glueport/glueport/internal/progress"
	"github.com/glueport/glueport/internal/state"
)

// Documents larger than this get an advisory warning; the destination
// editor struggles well before the API rejects them.
const oversizedContentBytes = 1 << 20

// Flush state to disk every N entity outcomes within a phase, on top of
// the flush at every phase boundary.
const flushEvery = 25

// Options configures a migration run.
type Options struct {
	DryRun    bool
	OrgFilter string // organization name or source id; empty runs all
	StatePath string
}

// Runner drives the nine migration phases: sequential per phase,
// sequential per entity, every per-entity failure isolated and recorded.
type Runner struct {
	client  *platform.Client
	ex      *export.Export
	plan    *Plan
	st      *state.MigrationState
	ids     *state.IdMapper
	scan    *attachments.ScanResult
	scanner *attachments.Scanner
	proc    *documents.Processor
	opts    Options
	logf    func(string)
	runlog  *progress.RunLog

	allowedOrgs     map[string]bool // by name; nil means all
	knownAssetTypes map[string]bool
	skipped         map[state.Phase]int
	outcomes        int // since last flush
}

// NewRunner wires a Runner. runlog may be nil when no status server is
// attached.
func NewRunner(client *platform.Client, ex *export.Export, plan *Plan, st *state.MigrationState, ids *state.IdMapper, opts Options, logf func(string), runlog *progress.RunLog) (*Runner, error) {
	scanner := attachments.NewScanner(ex.Path)
	scan, err := scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("scanning attachments: %w", err)
	}

	known := make(map[string]bool)
	for _, at := range ex.AssetTypes {
		known[strings.TrimSuffix(at.File, ".csv")] = true
		known[at.Key] = true
	}
	// Legacy unprefixed floor-plan files belong to custom assets too.
	known["floor_plans_photos"] = true

	r := &Runner{
		client:          client,
		ex:              ex,
		plan:            plan,
		st:              st,
		ids:             ids,
		scan:            scan,
		scanner:         scanner,
		proc:            documents.NewProcessor(ex.Path, client, scanner),
		opts:            opts,
		logf:            logf,
		runlog:          runlog,
		knownAssetTypes: known,
		skipped:         make(map[state.Phase]int),
	}

	if opts.OrgFilter != "" {
		r.allowedOrgs = make(map[string]bool)
		for _, org := range ex.Organizations {
			if org.Name == opts.OrgFilter || org.ID == opts.OrgFilter {
				r.allowedOrgs[org.Name] = true
			}
		}
		if len(r.allowedOrgs) == 0 {
			return nil, fmt.Errorf("no organization matches --org %q", opts.OrgFilter)
		}
	}
	return r, nil
}

// Run executes all phases in order, persisting state and id map at
// every phase boundary. Context cancellation stops between entities;
// already-persisted progress survives.
func (r *Runner) Run(ctx context.Context) error {
	for _, phase := range state.PhaseOrder {
		if ctx.Err() != nil {
			r.logf("Run cancelled")
			return ctx.Err()
		}
		r.st.SetCurrentPhase(phase)
		if r.runlog != nil {
			r.runlog.SetPhase(string(phase))
		}
		r.logf("")
		r.logf("=== Phase: " + string(phase) + " ===")

		switch phase {
		case state.PhaseOrganizations:
			r.migrateOrganizations(ctx)
		case state.PhaseLocations:
			r.migrateLocations(ctx)
		case state.PhaseConfigurationTypes:
			r.migrateConfigurationTypes(ctx)
		case state.PhaseConfigurations:
			r.migrateConfigurations(ctx)
		case state.PhaseCustomAssetTypes:
			r.migrateCustomAssetTypes(ctx)
		case state.PhaseCustomAssets:
			r.migrateCustomAssets(ctx)
		case state.PhaseDocuments:
			r.migrateDocuments(ctx)
		case state.PhasePasswords:
			r.migratePasswords(ctx)
		case state.PhaseRelationships:
			r.migrateRelationships(ctx)
		}

		if err := r.flush(); err != nil {
			return err
		}
	}
	return nil
}

// Failed reports whether any entity failure is recorded.
func (r *Runner) Failed() bool {
	return r.st.TotalFailed() > 0
}

func (r *Runner) orgAllowed(name string) bool {
	return r.allowedOrgs == nil || r.allowedOrgs[name]
}

func (r *Runner) placeholder(category, id string) string {
	return fmt.Sprintf("dry-run-%s-%s", category, id)
}

// markCompleted records success unless this is a dry run; dry runs must
// leave no durable progress.
func (r *Runner) markCompleted(phase state.Phase, id string) {
	if r.opts.DryRun {
		return
	}
	r.st.MarkCompleted(phase, id)
	if r.runlog != nil {
		r.runlog.CountSucceeded(string(phase))
	}
	r.countOutcome()
}

func (r *Runner) markFailed(phase state.Phase, id, msg string) {
	r.st.MarkFailed(phase, id, msg)
	if r.runlog != nil {
		r.runlog.CountFailed(string(phase))
	}
	r.logf("  FAIL: " + id + ": " + msg)
	r.countOutcome()
}

func (r *Runner) markSkipped(phase state.Phase) {
	r.skipped[phase]++
	if r.runlog != nil {
		r.runlog.CountSkipped(string(phase))
	}
}

func (r *Runner) countOutcome() {
	r.outcomes++
	if r.outcomes >= flushEvery {
		if err := r.flush(); err != nil {
			r.logf("  WARNING: persisting state: " + err.Error())
		}
	}
}

// flush persists state plus the companion id map.
func (r *Runner) flush() error {
	r.outcomes = 0
	if r.opts.StatePath == "" {
		return nil
	}
	if err := r.st.Save(r.opts.StatePath); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	if err := r.ids.Save(state.IDMapPath(r.opts.StatePath)); err != nil {
		return fmt.Errorf("saving id map: %w", err)
	}
	return nil
}

// resolveOrg resolves an organization reference (name, as used in the
// CSVs) to its destination id.
func (r *Runner) resolveOrg(name string) (string, bool) {
	return r.ids.Get(state.MapOrganization, name)
}

// uploadAttachments uploads an entity's discovered attachments, unless
// dry-running.
func (r *Runner) uploadAttachments(entityType, entityID, orgDestID, destID string) {
	if r.opts.DryRun {
		return
	}
	warnings := documents.UploadEntityAttachments(
		r.client, r.scan, r.st, entityType, entityID, orgDestID, destID, r.knownAssetTypes)
	for _, w := range warnings {
		r.st.AddWarning(w)
		r.logf("  WARNING: " + w)
	}
}

func (r *Runner) migrateOrganizations(ctx context.Context) {
	for _, org := range r.ex.Organizations {
		if ctx.Err() != nil {
			return
		}
		if !r.orgAllowed(org.Name) {
			continue
		}
		if r.st.IsCompleted(state.PhaseOrganizations, org.ID) {
			r.markSkipped(state.PhaseOrganizations)
			continue
		}

		action, destID := r.plan.organizationAction(org.Name)
		if action == ActionExists {
			r.ids.Set(state.MapOrganization, org.ID, destID)
			r.ids.Set(state.MapOrganization, org.Name, destID)
			r.markCompleted(state.PhaseOrganizations, org.ID)
			r.logf(fmt.Sprintf("  EXISTS: %s (dest ID %s)", org.Name, destID))
			continue
		}

		if r.opts.DryRun {
			destID = r.placeholder("organization", org.ID)
			r.ids.Set(state.MapOrganization, org.ID, destID)
			r.ids.Set(state.MapOrganization, org.Name, destID)
			r.logf("  DRY-RUN: would create organization " + org.Name)
			continue
		}

		destID, err := r.client.Create(platform.PathOrganizations, map[string]any{
			"name":        org.Name,
			"description": org.Description,
			"quick_notes": org.QuickNotes,
		})
		if err != nil {
			r.markFailed(state.PhaseOrganizations, org.ID, err.Error())
			continue
		}
		r.ids.Set(state.MapOrganization, org.ID, destID)
		r.ids.Set(state.MapOrganization, org.Name, destID)
		r.markCompleted(state.PhaseOrganizations, org.ID)
		r.logf(fmt.Sprintf("  CREATED: %s (ID %s)", org.Name, destID))
	}
}

func (r *Runner) migrateLocations(ctx context.Context) {
	for _, loc := range r.ex.Locations {
		if ctx.Err() != nil {
			return
		}
		if !r.orgAllowed(loc.Organization) {
			continue
		}
		if r.st.IsCompleted(state.PhaseLocations, loc.ID) {
			r.markSkipped(state.PhaseLocations)
			continue
		}
		orgID, ok := r.resolveOrg(loc.Organization)
		if !ok {
			r.markFailed(state.PhaseLocations, loc.ID,
				fmt.Sprintf("organization %q not mapped", loc.Organization))
			continue
		}

		if r.opts.DryRun {
			destID := r.placeholder("location", loc.ID)
			r.ids.Set(state.MapLocation, loc.ID, destID)
			r.ids.Set(state.MapLocation, loc.Organization+"/"+loc.Name, destID)
			r.logf("  DRY-RUN: would create location " + loc.Name)
			continue
		}

		destID, err := r.client.Create(platform.PathLocations, map[string]any{
			"organization_id": orgID,
			"name":            loc.Name,
			"address_1":       loc.Address1,
			"address_2":       loc.Address2,
			"city":            loc.City,
			"region":          loc.Region,
			"postal_code":     loc.PostalCode,
			"country":         loc.Country,
			"phone":           loc.Phone,
			"fax":             loc.Fax,
			"notes":           loc.Notes,
		})
		if err != nil {
			r.markFailed(state.PhaseLocations, loc.ID, err.Error())
			continue
		}
		r.ids.Set(state.MapLocation, loc.ID, destID)
		r.ids.Set(state.MapLocation, loc.Organization+"/"+loc.Name, destID)
		r.markCompleted(state.PhaseLocations, loc.ID)
		r.logf(fmt.Sprintf("  CREATED: %s/%s (ID %s)", loc.Organization, loc.Name, destID))
		r.uploadAttachments("locations", loc.ID, orgID, destID)
	}
}

// migrateConfigurationTypes creates the distinct configuration type
// names referenced by configurations. Types have no source ids; the
// name is the key throughout.
func (r *Runner) migrateConfigurationTypes(ctx context.Context) {
	seen := make(map[string]bool)
	for _, cfg := range r.ex.Configurations {
		if ctx.Err() != nil {
			return
		}
		name := cfg.ConfigurationType
		if name == "" || seen[name] || !r.orgAllowed(cfg.Organization) {
			continue
		}
		seen[name] = true

		if r.st.IsCompleted(state.PhaseConfigurationTypes, name) {
			r.markSkipped(state.PhaseConfigurationTypes)
			continue
		}

		if r.opts.DryRun {
			r.ids.Set(state.MapConfigurationType, name, r.placeholder("configuration_type", name))
			r.logf("  DRY-RUN: would create configuration type " + name)
			continue
		}

		existing, err := r.client.FindByName(platform.PathConfigurationTypes, name)
		if err == nil && existing != nil {
			destID := platform.IDString(existing["id"])
			r.ids.Set(state.MapConfigurationType, name, destID)
			r.markCompleted(state.PhaseConfigurationTypes, name)
			r.logf(fmt.Sprintf("  EXISTS: %s (dest ID %s)", name, destID))
			continue
		}

		destID, err := r.client.Create(platform.PathConfigurationTypes, map[string]any{"name": name})
		if err != nil {
			r.markFailed(state.PhaseConfigurationTypes, name, err.Error())
			continue
		}
		r.ids.Set(state.MapConfigurationType, name, destID)
		r.markCompleted(state.PhaseConfigurationTypes, name)
		r.logf(fmt.Sprintf("  CREATED: %s (ID %s)", name, destID))
	}
}

func (r *Runner) migrateConfigurations(ctx context.Context) {
	for _, cfg := range r.ex.Configurations {
		if ctx.Err() != nil {
			return
		}
		if !r.orgAllowed(cfg.Organization) {
			continue
		}
		if r.st.IsCompleted(state.PhaseConfigurations, cfg.ID) {
			r.markSkipped(state.PhaseConfigurations)
			continue
		}
		orgID, ok := r.resolveOrg(cfg.Organization)
		if !ok {
			r.markFailed(state.PhaseConfigurations, cfg.ID,
				fmt.Sprintf("organization %q not mapped", cfg.Organization))
			continue
		}
		typeID := ""
		if cfg.ConfigurationType != "" {
			typeID, ok = r.ids.Get(state.MapConfigurationType, cfg.ConfigurationType)
			if !ok {
				r.markFailed(state.PhaseConfigurations, cfg.ID,
					fmt.Sprintf("configuration type %q not mapped", cfg.ConfigurationType))
				continue
			}
		}

		if r.opts.DryRun {
			r.ids.Set(state.MapConfiguration, cfg.ID, r.placeholder("configuration", cfg.ID))
			r.logf("  DRY-RUN: would create configuration " + cfg.Name)
			continue
		}

		payload := map[string]any{
			"organization_id":       orgID,
			"name":                  cfg.Name,
			"configuration_type_id": typeID,
			"status":                cfg.ConfigurationStatus,
			"primary_ip":            cfg.PrimaryIP,
			"mac_address":           cfg.MACAddress,
			"serial_number":         cfg.SerialNumber,
			"asset_tag":             cfg.AssetTag,
			"manufacturer":          cfg.Manufacturer,
			"model":                 cfg.Model,
			"operating_system":      cfg.OperatingSystem,
			"notes":                 cfg.Notes,
		}
		if cfg.Location != "" {
			if locID, ok := r.ids.Get(state.MapLocation, cfg.Organization+"/"+cfg.Location); ok {
				payload["location_id"] = locID
			}
		}

		destID, err := r.client.Create(platform.PathConfigurations, payload)
		if err != nil {
			r.markFailed(state.PhaseConfigurations, cfg.ID, err.Error())
			continue
		}
		r.ids.Set(state.MapConfiguration, cfg.ID, destID)
		r.markCompleted(state.PhaseConfigurations, cfg.ID)
		r.logf(fmt.Sprintf("  CREATED: %s (ID %s)", cfg.Name, destID))
		r.uploadAttachments("configurations", cfg.ID, orgID, destID)
	}
}

func (r *Runner) migrateCustomAssetTypes(ctx context.Context) {
	for _, at := range r.ex.AssetTypes {
		if ctx.Err() != nil {
			return
		}
		if r.st.IsCompleted(state.PhaseCustomAssetTypes, at.Key) {
			r.markSkipped(state.PhaseCustomAssetTypes)
			continue
		}

		if r.opts.DryRun {
			destID := r.placeholder("custom_asset_type", at.Key)
			r.ids.Set(state.MapCustomAssetType, at.Key, destID)
			r.ids.Set(state.MapCustomAssetType, at.Name, destID)
			r.logf("  DRY-RUN: would create custom asset type " + at.Name)
			continue
		}

		fields := make([]map[string]any, 0, len(at.Fields))
		for _, f := range at.Fields {
			field := map[string]any{
				"name":         f.Name,
				"key":          f.Key,
				"field_type":   f.FieldType,
				"required":     f.Required,
				"show_in_list": f.ShowInList,
			}
			if len(f.Options) > 0 {
				field["options"] = f.Options
			}
			fields = append(fields, field)
		}

		destID, err := r.client.Create(platform.PathCustomAssetTypes, map[string]any{
			"name":   at.Name,
			"fields": fields,
		})
		if err != nil {
			r.markFailed(state.PhaseCustomAssetTypes, at.Key, err.Error())
			continue
		}
		r.ids.Set(state.MapCustomAssetType, at.Key, destID)
		r.ids.Set(state.MapCustomAssetType, at.Name, destID)
		r.markCompleted(state.PhaseCustomAssetTypes, at.Key)
		r.logf(fmt.Sprintf("  CREATED: %s (ID %s, %d fields)", at.Name, destID, len(at.Fields)))
	}
}

func (r *Runner) migrateCustomAssets(ctx context.Context) {
	for _, at := range r.ex.AssetTypes {
		typeID, typeOK := r.ids.Get(state.MapCustomAssetType, at.Key)
		for _, rec := range at.Records {
			if ctx.Err() != nil {
				return
			}
			orgName := rec.Organization
			if !r.orgAllowed(orgName) {
				continue
			}
			key := at.Key + ":" + rec.ID
			if r.st.IsCompleted(state.PhaseCustomAssets, key) {
				r.markSkipped(state.PhaseCustomAssets)
				continue
			}
			if !typeOK {
				r.markFailed(state.PhaseCustomAssets, key,
					fmt.Sprintf("custom asset type %q not mapped", at.Name))
				continue
			}
			orgID, ok := r.resolveOrg(orgName)
			if !ok {
				r.markFailed(state.PhaseCustomAssets, key,
					fmt.Sprintf("organization %q not mapped", orgName))
				continue
			}

			if r.opts.DryRun {
				r.ids.Set(state.MapCustomAsset, rec.ID, r.placeholder("custom_asset", rec.ID))
				r.logf("  DRY-RUN: would create " + at.Name + " " + rec.Name)
				continue
			}

			destID, err := r.client.Create(platform.PathCustomAssets, map[string]any{
				"organization_id":      orgID,
				"custom_asset_type_id": typeID,
				"name":                 rec.Name,
				"values":               rec.Values,
			})
			if err != nil {
				r.markFailed(state.PhaseCustomAssets, key, err.Error())
				continue
			}
			r.ids.Set(state.MapCustomAsset, rec.ID, destID)
			r.markCompleted(state.PhaseCustomAssets, key)
			r.logf(fmt.Sprintf("  CREATED: %s/%s (ID %s)", at.Name, rec.Name, destID))
			r.uploadAttachments(strings.TrimSuffix(at.File, ".csv"), rec.ID, orgID, destID)
			r.uploadAttachments("floor_plans_photos", rec.ID, orgID, destID)
		}
	}
}

func (r *Runner) migrateDocuments(ctx context.Context) {
	for _, doc := range r.ex.Documents {
		if ctx.Err() != nil {
			return
		}
		if !r.orgAllowed(doc.Organization) {
			continue
		}
		if r.st.IsCompleted(state.PhaseDocuments, doc.ID) {
			r.markSkipped(state.PhaseDocuments)
			continue
		}
		orgID, ok := r.resolveOrg(doc.Organization)
		if !ok {
			r.markFailed(state.PhaseDocuments, doc.ID,
				fmt.Sprintf("organization %q not mapped", doc.Organization))
			continue
		}

		if r.opts.DryRun {
			r.ids.Set(state.MapDocument, doc.ID, r.placeholder("document", doc.ID))
			r.logf("  DRY-RUN: would create document " + doc.Name)
			continue
		}

		html, warnings := r.proc.ProcessDocument(doc.ID, orgID)
		for _, w := range warnings {
			r.st.AddWarning(w)
			r.logf("  WARNING: " + w)
		}
		if len(html) > oversizedContentBytes {
			w := fmt.Sprintf("document %s content is %s", doc.ID,
				attachments.FormatSize(int64(len(html))))
			r.st.AddWarning(w)
			r.logf("  WARNING: " + w)
		}

		payload := map[string]any{
			"organization_id": orgID,
			"name":            doc.Name,
			"content":         html,
			"public":          doc.Public,
		}
		if folder, ok := r.scanner.FindDocumentFolder(doc.ID); ok && folder.VirtualPath != "/" {
			payload["folder"] = folder.VirtualPath
		}

		destID, err := r.client.Create(platform.PathDocuments, payload)
		if err != nil {
			r.markFailed(state.PhaseDocuments, doc.ID, err.Error())
			continue
		}
		r.ids.Set(state.MapDocument, doc.ID, destID)
		r.markCompleted(state.PhaseDocuments, doc.ID)
		r.logf(fmt.Sprintf("  CREATED: %s (ID %s)", doc.Name, destID))
		r.uploadAttachments("documents", doc.ID, orgID, destID)
	}
}

func (r *Runner) migratePasswords(ctx context.Context) {
	for _, pw := range r.ex.Passwords {
		if ctx.Err() != nil {
			return
		}
		if !r.orgAllowed(pw.Organization) {
			continue
		}
		if r.st.IsCompleted(state.PhasePasswords, pw.ID) {
			r.markSkipped(state.PhasePasswords)
			continue
		}
		orgID, ok := r.resolveOrg(pw.Organization)
		if !ok {
			r.markFailed(state.PhasePasswords, pw.ID,
				fmt.Sprintf("organization %q not mapped", pw.Organization))
			continue
		}

		if r.opts.DryRun {
			r.ids.Set(state.MapPassword, pw.ID, r.placeholder("password", pw.ID))
			r.logf("  DRY-RUN: would create password " + pw.Name)
			continue
		}

		destID, err := r.client.Create(platform.PathPasswords, map[string]any{
			"organization_id": orgID,
			"name":            pw.Name,
			"username":        pw.Username,
			"password":        pw.Password,
			"url":             pw.URL,
			"notes":           pw.Notes,
		})
		if err != nil {
			r.markFailed(state.PhasePasswords, pw.ID, err.Error())
			continue
		}
		r.ids.Set(state.MapPassword, pw.ID, destID)
		r.markCompleted(state.PhasePasswords, pw.ID)
		r.logf(fmt.Sprintf("  CREATED: %s (ID %s)", pw.Name, destID))
		r.uploadAttachments("passwords", pw.ID, orgID, destID)
	}
}

// Resource type names on passwords → id-map categories.
var resourceCategories = map[string]string{
	"configuration":  state.MapConfiguration,
	"document":       state.MapDocument,
	"password":       state.MapPassword,
	"location":       state.MapLocation,
	"flexible asset": state.MapCustomAsset,
}

// migrateRelationships links passwords to the entities they reference.
// A relationship is created only once both endpoints have destination
// ids.
func (r *Runner) migrateRelationships(ctx context.Context) {
	for _, pw := range r.ex.Passwords {
		if ctx.Err() != nil {
			return
		}
		if pw.ResourceType == "" || pw.ResourceID == "" || !r.orgAllowed(pw.Organization) {
			continue
		}
		if r.st.IsCompleted(state.PhaseRelationships, pw.ID) {
			r.markSkipped(state.PhaseRelationships)
			continue
		}

		category, ok := resourceCategories[strings.ToLower(pw.ResourceType)]
		if !ok {
			w := fmt.Sprintf("password %s references unknown resource type %q", pw.ID, pw.ResourceType)
			r.st.AddWarning(w)
			r.logf("  WARNING: " + w)
			r.markSkipped(state.PhaseRelationships)
			continue
		}

		pwDestID, ok := r.ids.Get(state.MapPassword, pw.ID)
		if !ok {
			r.markFailed(state.PhaseRelationships, pw.ID, "password not yet migrated")
			continue
		}
		targetDestID, ok := r.ids.Get(category, pw.ResourceID)
		if !ok {
			r.markFailed(state.PhaseRelationships, pw.ID,
				fmt.Sprintf("%s %s not yet migrated", strings.ToLower(pw.ResourceType), pw.ResourceID))
			continue
		}

		if r.opts.DryRun {
			r.logf(fmt.Sprintf("  DRY-RUN: would link password %s to %s %s", pw.ID, category, pw.ResourceID))
			continue
		}

		_, err := r.client.Create(platform.PathRelationships, map[string]any{
			"from_type": "password",
			"from_id":   pwDestID,
			"to_type":   category,
			"to_id":     targetDestID,
		})
		if err != nil {
			r.markFailed(state.PhaseRelationships, pw.ID, err.Error())
			continue
		}
		r.markCompleted(state.PhaseRelationships, pw.ID)
		r.logf(fmt.Sprintf("  LINKED: password %s -> %s %s", pw.ID, category, pw.ResourceID))
	}
}
