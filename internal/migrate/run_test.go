package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/glueport/glueport/internal/export"
	"github.com/glueport/glueport/internal/platform"
	"github.com/glueport/glueport/internal/state"
)

// fakeDest is an in-memory destination API: every create returns an
// incrementing id, list and search endpoints return empty pages, and
// presigned PUTs land on /upload/.
type fakeDest struct {
	srv *httptest.Server

	mu       sync.Mutex
	nextID   int
	requests []string                    // "METHOD path"
	created  map[string][]map[string]any // path → payloads
	failName string                      // creates with this name get a 500
}

func newFakeDest(t *testing.T) *fakeDest {
	t.Helper()
	d := &fakeDest{created: make(map[string][]map[string]any)}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.requests = append(d.requests, r.Method+" "+r.URL.Path)

		switch {
		case r.Method == "PUT" && strings.HasPrefix(r.URL.Path, "/upload/"):
			return
		case r.Method == "GET":
			fmt.Fprint(w, `{"count":0,"next":null,"results":[]}`)
			return
		case r.Method == "POST":
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode %s payload: %v", r.URL.Path, err)
			}
			if d.failName != "" && payload["name"] == d.failName {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"induced failure"}`)
				return
			}
			d.nextID++
			d.created[r.URL.Path] = append(d.created[r.URL.Path], payload)
			switch r.URL.Path {
			case platform.PathAttachments, platform.PathDocumentImages:
				fmt.Fprintf(w, `{"id":"%d","upload_url":"%s/upload/%d","image_url":"https://cdn.example/%d"}`,
					d.nextID, d.srv.URL, d.nextID, d.nextID)
			default:
				fmt.Fprintf(w, `{"id":%d}`, d.nextID)
			}
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDest) client() *platform.Client {
	return platform.NewClient(d.srv.URL, "tok")
}

func (d *fakeDest) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDest) createdAt(path string) []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]map[string]any(nil), d.created[path]...)
}

// newTestExport writes a small but complete export: two organizations,
// with Acme owning a location, a configuration with an attachment, a
// document with an on-disk folder, a linked password, and one custom
// asset.
func newTestExport(t *testing.T) *export.Export {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"organizations.csv": "id,name,description,quick_notes\n1,Acme,Main client,\n2,Globex,,\n",
		"locations.csv":     "id,organization,name,city\n10,Acme,HQ,Lisbon\n11,Globex,Branch,Porto\n",
		"configurations.csv": "id,organization,name,configuration_type,location\n" +
			"20,Acme,web-01,Server,HQ\n",
		"documents.csv": "id,organization,name,public\n100,Acme,Setup Guide,true\n",
		"passwords.csv": "id,organization,name,username,password,url,notes,resource_type,resource_id\n" +
			"30,Acme,Router admin,admin,pw,,,Configuration,20\n",
		"ssl-certificates.csv": "id,organization,name,Status\n200,Acme,example.com,Active\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	docDir := filepath.Join(dir, "documents", "DOC-1-100 Setup Guide")
	if err := os.MkdirAll(filepath.Join(docDir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docDir, "index.html"), []byte("<p>hello</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	// An embedded image that the HTML never references; it must not be
	// uploaded as a document attachment either.
	if err := os.WriteFile(filepath.Join(docDir, "images", "pic.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for entity, file := range map[string]string{
		filepath.Join("configurations", "20"): "a.pdf",
		filepath.Join("documents", "100"):     "manual.pdf",
	} {
		attDir := filepath.Join(dir, "attachments", entity)
		if err := os.MkdirAll(attDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(attDir, file), []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ex, err := export.ParseExport(dir)
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	return ex
}

func newTestPlan(ex *export.Export) *Plan {
	p := &Plan{ExportPath: ex.Path}
	for _, org := range ex.Organizations {
		p.Organizations = append(p.Organizations, OrganizationPlan{
			SourceID: org.ID, Name: org.Name, Action: ActionCreate,
		})
	}
	return p
}

func newTestRunner(t *testing.T, d *fakeDest, ex *export.Export, plan *Plan, opts Options) (*Runner, *state.MigrationState) {
	t.Helper()
	st := state.New(ex.Path, d.srv.URL)
	if opts.StatePath == "" {
		opts.StatePath = filepath.Join(t.TempDir(), "state.json")
	}
	r, err := NewRunner(d.client(), ex, plan, st, state.NewIdMapper(), opts, func(string) {}, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r, st
}

func TestRunFullMigration(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	r, st := newTestRunner(t, d, ex, newTestPlan(ex), Options{})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Failed() {
		t.Fatalf("unexpected failures: %v", st.FailedErrors(state.PhaseOrganizations))
	}

	wantCompleted := map[state.Phase]int{
		state.PhaseOrganizations:      2,
		state.PhaseLocations:          2,
		state.PhaseConfigurationTypes: 1,
		state.PhaseConfigurations:     1,
		state.PhaseCustomAssetTypes:   1,
		state.PhaseCustomAssets:       1,
		state.PhaseDocuments:          1,
		state.PhasePasswords:          1,
		state.PhaseRelationships:      1,
	}
	for phase, want := range wantCompleted {
		if got := st.CompletedCount(phase); got != want {
			t.Errorf("%s completed = %d, want %d", phase, got, want)
		}
	}

	// Dependent ids resolved: the configuration references the Acme org
	// and the Server type by destination id.
	cfgs := d.createdAt(platform.PathConfigurations)
	if len(cfgs) != 1 {
		t.Fatalf("configurations created = %d", len(cfgs))
	}
	orgs := d.createdAt(platform.PathOrganizations)
	if len(orgs) != 2 {
		t.Fatalf("organizations created = %d", len(orgs))
	}
	if cfgs[0]["organization_id"] == "" || cfgs[0]["configuration_type_id"] == "" {
		t.Errorf("configuration payload missing resolved ids: %v", cfgs[0])
	}
	if cfgs[0]["location_id"] == nil {
		t.Errorf("location not resolved by org/name: %v", cfgs[0])
	}

	// The relationship links the password to the configuration.
	rels := d.createdAt(platform.PathRelationships)
	if len(rels) != 1 {
		t.Fatalf("relationships created = %d", len(rels))
	}
	if rels[0]["from_type"] != "password" || rels[0]["to_type"] != "configuration" {
		t.Errorf("relationship payload = %v", rels[0])
	}

	// The configuration and document attachments went through ticket +
	// PUT; the unreferenced embedded image did not.
	if atts := d.createdAt(platform.PathAttachments); len(atts) != 2 {
		t.Errorf("attachment tickets = %d, want 2", len(atts))
	}
	if !st.IsAttachmentCompleted("configurations", "20", "a.pdf") {
		t.Error("configuration attachment not recorded completed")
	}
	if !st.IsAttachmentCompleted("documents", "100", "manual.pdf") {
		t.Error("document attachment not recorded completed")
	}
	if st.IsAttachmentCompleted("documents", "100", "pic.png") {
		t.Error("embedded image must not upload as a document attachment")
	}
	if imgs := d.createdAt(platform.PathDocumentImages); len(imgs) != 0 {
		t.Errorf("document image tickets = %d, want 0 (image unreferenced)", len(imgs))
	}
}

func TestRunResumeMakesNoCalls(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	r, st := newTestRunner(t, d, ex, newTestPlan(ex), Options{})

	for phase, ids := range map[state.Phase][]string{
		state.PhaseOrganizations:      {"1", "2"},
		state.PhaseLocations:          {"10", "11"},
		state.PhaseConfigurationTypes: {"Server"},
		state.PhaseConfigurations:     {"20"},
		state.PhaseCustomAssetTypes:   {"ssl_certificates"},
		state.PhaseCustomAssets:       {"ssl_certificates:200"},
		state.PhaseDocuments:          {"100"},
		state.PhasePasswords:          {"30"},
		state.PhaseRelationships:      {"30"},
	} {
		for _, id := range ids {
			st.MarkCompleted(phase, id)
		}
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := d.requestCount(); n != 0 {
		t.Errorf("fully completed state made %d API calls, want 0", n)
	}
	if r.Failed() {
		t.Error("resume produced failures")
	}
}

func TestRunDryRun(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	r, st := newTestRunner(t, d, ex, newTestPlan(ex), Options{DryRun: true})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := d.requestCount(); n != 0 {
		t.Errorf("dry run made %d API calls, want 0", n)
	}
	// Placeholder ids flow through dependent phases without failures and
	// without durable completions.
	if r.Failed() {
		t.Errorf("dry run recorded failures: %d", st.TotalFailed())
	}
	for _, phase := range state.PhaseOrder {
		if st.CompletedCount(phase) != 0 {
			t.Errorf("%s has completions after dry run", phase)
		}
	}
}

func TestRunFailureIsolation(t *testing.T) {
	d := newFakeDest(t)
	d.failName = "Globex"
	ex := newTestExport(t)
	r, st := newTestRunner(t, d, ex, newTestPlan(ex), Options{})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run should not abort on entity failures: %v", err)
	}
	if !r.Failed() {
		t.Fatal("Failed() should report the Globex failure")
	}
	if !st.IsFailed(state.PhaseOrganizations, "2") {
		t.Error("Globex failure not recorded")
	}
	if errs := st.FailedErrors(state.PhaseOrganizations); !strings.Contains(errs["2"], "HTTP 500") {
		t.Errorf("failure error = %q", errs["2"])
	}
	if !st.IsCompleted(state.PhaseOrganizations, "1") {
		t.Error("Acme should succeed despite Globex failing")
	}
	// The Globex location cascades: its org never mapped.
	if !st.IsFailed(state.PhaseLocations, "11") {
		t.Error("location under failed org should fail, not abort")
	}
	if !st.IsCompleted(state.PhaseLocations, "10") {
		t.Error("Acme location should still succeed")
	}
}

func TestRunOrgFilter(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	r, st := newTestRunner(t, d, ex, newTestPlan(ex), Options{OrgFilter: "Acme"})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Failed() {
		t.Fatalf("failures: %d", st.TotalFailed())
	}
	if st.CompletedCount(state.PhaseOrganizations) != 1 {
		t.Errorf("org completions = %d, want only Acme", st.CompletedCount(state.PhaseOrganizations))
	}
	if st.IsCompleted(state.PhaseLocations, "11") || st.IsFailed(state.PhaseLocations, "11") {
		t.Error("Globex location should be untouched by the filter")
	}
}

func TestNewRunnerBadOrgFilter(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	st := state.New(ex.Path, d.srv.URL)
	_, err := NewRunner(d.client(), ex, newTestPlan(ex), st, state.NewIdMapper(),
		Options{OrgFilter: "Nonexistent"}, func(string) {}, nil)
	if err == nil {
		t.Fatal("unknown --org value should be an error")
	}
}

func TestRunExistingOrganization(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	plan := newTestPlan(ex)
	plan.Organizations[0].Action = ActionExists
	plan.Organizations[0].DestID = "77"
	r, st := newTestRunner(t, d, ex, plan, Options{OrgFilter: "Acme"})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Failed() {
		t.Fatalf("failures: %d", st.TotalFailed())
	}
	if n := len(d.createdAt(platform.PathOrganizations)); n != 0 {
		t.Errorf("existing organization was created %d times", n)
	}
	locs := d.createdAt(platform.PathLocations)
	if len(locs) != 1 || locs[0]["organization_id"] != "77" {
		t.Errorf("location should use the existing dest id: %v", locs)
	}
	if !st.IsCompleted(state.PhaseOrganizations, "1") {
		t.Error("existing organization should be marked completed")
	}
}

func TestRunPersistsStateAndIdMap(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	statePath := filepath.Join(t.TempDir(), "state.json")
	r, _ := newTestRunner(t, d, ex, newTestPlan(ex), Options{StatePath: statePath})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	loaded, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("Load persisted state: %v", err)
	}
	if loaded.CompletedCount(state.PhaseOrganizations) != 2 {
		t.Errorf("persisted org completions = %d", loaded.CompletedCount(state.PhaseOrganizations))
	}
	ids, err := state.LoadIdMapper(state.IDMapPath(statePath))
	if err != nil {
		t.Fatalf("LoadIdMapper: %v", err)
	}
	if _, ok := ids.Get(state.MapOrganization, "Acme"); !ok {
		t.Error("persisted id map missing the Acme mapping")
	}
}

func TestRunLegacyFloorPlanAttachments(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	legacy := filepath.Join(ex.Path, "floor_plans_photos")
	if err := os.MkdirAll(legacy, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(legacy, "200-plan.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, st := newTestRunner(t, d, ex, newTestPlan(ex), Options{})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !st.IsAttachmentCompleted("floor_plans_photos", "200", "plan.png") {
		t.Error("legacy floor plan not uploaded")
	}
	for _, w := range st.Warnings() {
		if strings.Contains(w, "unknown entity type") {
			t.Errorf("legacy floor plan upload warned: %q", w)
		}
	}
}

func TestRunOversizedDocumentWarning(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	big := "<p>" + strings.Repeat("a", 1<<20) + "</p>"
	htmlPath := filepath.Join(ex.Path, "documents", "DOC-1-100 Setup Guide", "index.html")
	if err := os.WriteFile(htmlPath, []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	r, st := newTestRunner(t, d, ex, newTestPlan(ex), Options{OrgFilter: "Acme"})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !st.IsCompleted(state.PhaseDocuments, "100") {
		t.Error("oversized document should still migrate")
	}
	found := false
	for _, w := range st.Warnings() {
		if strings.Contains(w, "document 100 content is") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected oversized-content warning, got %v", st.Warnings())
	}
}

func TestRunCancellation(t *testing.T) {
	d := newFakeDest(t)
	ex := newTestExport(t)
	r, _ := newTestRunner(t, d, ex, newTestPlan(ex), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err == nil {
		t.Fatal("cancelled context should surface as an error")
	}
	if n := d.requestCount(); n != 0 {
		t.Errorf("cancelled run made %d API calls", n)
	}
}
