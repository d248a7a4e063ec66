package migrate

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glueport/glueport/internal/platform"
)

func TestBuildPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":1,"next":null,"results":[{"id":77,"name":"Acme"}]}`)
	}))
	defer srv.Close()

	ex := newTestExport(t)
	// An orphaned attachment id not present in any CSV.
	orphan := filepath.Join(ex.Path, "attachments", "configurations", "999")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(orphan, "x.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, parsed, err := BuildPlan(ex.Path, platform.NewClient(srv.URL, "tok"), func(string) {})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if parsed == nil || len(parsed.Organizations) != 2 {
		t.Fatal("parsed export not returned")
	}

	var acme, globex OrganizationPlan
	for _, op := range plan.Organizations {
		switch op.Name {
		case "Acme":
			acme = op
		case "Globex":
			globex = op
		}
	}
	if acme.Action != ActionExists || acme.DestID != "77" {
		t.Errorf("Acme plan = %+v, want exists/77", acme)
	}
	if globex.Action != ActionCreate || globex.DestID != "" {
		t.Errorf("Globex plan = %+v, want create", globex)
	}

	if len(plan.AssetTypes) != 1 || plan.AssetTypes[0].Key != "ssl_certificates" {
		t.Errorf("asset types = %+v", plan.AssetTypes)
	}
	if plan.Counts["custom_assets"] != 1 {
		t.Errorf("custom asset count = %d", plan.Counts["custom_assets"])
	}

	if len(plan.Attachments.Orphaned["configurations"]) != 1 {
		t.Errorf("orphaned = %v", plan.Attachments.Orphaned)
	}
	joined := strings.Join(plan.Warnings, "; ")
	if !strings.Contains(joined, "orphaned attachment") || !strings.Contains(joined, "999") {
		t.Errorf("warnings = %v", plan.Warnings)
	}
}

func TestBuildPlanMissingDocumentFolderWarns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":0,"next":null,"results":[]}`)
	}))
	defer srv.Close()

	ex := newTestExport(t)
	if err := os.RemoveAll(filepath.Join(ex.Path, "documents")); err != nil {
		t.Fatal(err)
	}

	plan, _, err := BuildPlan(ex.Path, platform.NewClient(srv.URL, "tok"), func(string) {})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	found := false
	for _, w := range plan.Warnings {
		if strings.Contains(w, "document 100") && strings.Contains(w, "no folder") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing-folder warning, got %v", plan.Warnings)
	}
}

func TestBuildPlanEmptyFieldWarnings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":0,"next":null,"results":[]}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	files := map[string]string{
		"organizations.csv":  "id,name\n1,Acme\n2,\n",
		"locations.csv":      "id,organization,name\n10,Acme,\n",
		"configurations.csv": "id,organization,name\n20,Acme,\n",
		"documents.csv":      "id,organization,name,public\n100,Acme,,false\n",
		"passwords.csv": "id,organization,name,username,password,url,notes,resource_type,resource_id\n" +
			"30,Acme,,admin,,,,,\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	plan, _, err := BuildPlan(dir, platform.NewClient(srv.URL, "tok"), func(string) {})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	joined := strings.Join(plan.Warnings, "; ")
	for _, want := range []string{
		"organization 2 has no name",
		"location 10 has no name",
		"configuration 20 has no name",
		"document 100 has no name",
		"password 30 has no name",
		"password 30 has no password value",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q: %v", want, plan.Warnings)
		}
	}
}

func TestMigratingSets(t *testing.T) {
	ex := newTestExport(t)
	sets := MigratingSets(ex)

	if !sets["configurations"]["20"] || !sets["documents"]["100"] {
		t.Error("core entity ids missing")
	}
	// Custom assets are addressable by file base name and by key.
	if !sets["ssl-certificates"]["200"] {
		t.Error("custom asset not reachable by file base name")
	}
	if !sets["ssl_certificates"]["200"] {
		t.Error("custom asset not reachable by key")
	}
	// The legacy directory matches any custom asset id.
	if !sets["floor_plans_photos"]["200"] {
		t.Error("legacy floor plans set missing custom asset id")
	}
}

func TestPlanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	ex := newTestExport(t)
	plan := newTestPlan(ex)
	plan.APIURL = "https://dest"
	plan.Organizations[0].Action = ActionExists
	plan.Organizations[0].DestID = "77"
	plan.Counts = map[string]int{"organizations": 2}

	if err := plan.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded.ExportPath != plan.ExportPath || loaded.APIURL != "https://dest" {
		t.Errorf("identity fields = %q %q", loaded.ExportPath, loaded.APIURL)
	}

	action, destID := loaded.organizationAction("Acme")
	if action != ActionExists || destID != "77" {
		t.Errorf("organizationAction(Acme) = %q, %q", action, destID)
	}
	action, destID = loaded.organizationAction("Unknown")
	if action != ActionCreate || destID != "" {
		t.Errorf("organizationAction default = %q, %q", action, destID)
	}
}
