package migrate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glueport/glueport/internal/attachments"
	"github.com/glueport/glueport/internal/export"
)

// Organization actions decided during preview.
const (
	ActionCreate = "create"
	ActionExists = "exists"
)

// OrganizationPlan is one organization's preview decision.
type OrganizationPlan struct {
	SourceID string `yaml:"source_id"`
	Name     string `yaml:"name"`
	Action   string `yaml:"action"`
	DestID   string `yaml:"dest_id,omitempty"`
}

// AssetTypePlan carries one custom-asset type's inferred schema.
type AssetTypePlan struct {
	Name    string                   `yaml:"name"`
	Key     string                   `yaml:"key"`
	File    string                   `yaml:"file"`
	Records int                      `yaml:"records"`
	Fields  []export.FieldDefinition `yaml:"fields"`
}

// Plan is the preview artifact handed from `preview` to `run`.
type Plan struct {
	ExportPath    string                                 `yaml:"export_path"`
	APIURL        string                                 `yaml:"api_url"`
	GeneratedAt   time.Time                              `yaml:"generated_at"`
	Organizations []OrganizationPlan                     `yaml:"organizations"`
	AssetTypes    []AssetTypePlan                        `yaml:"asset_types"`
	Counts        map[string]int                         `yaml:"counts"`
	Attachments   attachments.AttachmentValidationResult `yaml:"attachments"`
	Warnings      []string                               `yaml:"warnings"`
}

// Save writes the plan as YAML.
func (p *Plan) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	return nil
}

// LoadPlan reads a previously generated plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	return &p, nil
}

// organizationAction returns the planned action for an organization,
// defaulting to create.
func (p *Plan) organizationAction(name string) (string, string) {
	for _, op := range p.Organizations {
		if op.Name == name {
			return op.Action, op.DestID
		}
	}
	return ActionCreate, ""
}
