package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// FormatVersion is the on-disk state file version. Loading any other
// version fails fatally rather than guessing at the layout.
const FormatVersion = 2

// Phase is one of the nine ordered migration stages.
type Phase string

const (
	PhaseOrganizations      Phase = "organizations"
	PhaseLocations          Phase = "locations"
	PhaseConfigurationTypes Phase = "configuration_types"
	PhaseConfigurations     Phase = "configurations"
	PhaseCustomAssetTypes   Phase = "custom_asset_types"
	PhaseCustomAssets       Phase = "custom_assets"
	PhaseDocuments          Phase = "documents"
	PhasePasswords          Phase = "passwords"
	PhaseRelationships      Phase = "relationships"
)

// PhaseOrder is the fixed execution order. It is an explicit slice so
// ordering never depends on anything else.
var PhaseOrder = []Phase{
	PhaseOrganizations,
	PhaseLocations,
	PhaseConfigurationTypes,
	PhaseConfigurations,
	PhaseCustomAssetTypes,
	PhaseCustomAssets,
	PhaseDocuments,
	PhasePasswords,
	PhaseRelationships,
}

var knownPhases = func() map[Phase]bool {
	m := make(map[Phase]bool, len(PhaseOrder))
	for _, p := range PhaseOrder {
		m[p] = true
	}
	return m
}()

type failure struct {
	Error     string
	Timestamp time.Time
}

// MigrationState is the persistable per-run ledger: per-phase completed
// and failed entity sets, per-entity attachment outcomes, and advisory
// warnings. All methods are safe for concurrent use.
type MigrationState struct {
	mu sync.Mutex

	ExportPath     string
	APIURL         string
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentPhase   Phase

	completed map[Phase]map[string]bool
	failed    map[Phase]map[string]failure
	warnings  []string

	attachmentsCompleted map[string]map[string]bool    // "type:id" → filename set
	attachmentsFailed    map[string]map[string]failure // "type:id" → filename → failure
}

// New creates a fresh state for a run against the given export and API.
func New(exportPath, apiURL string) *MigrationState {
	now := time.Now().UTC()
	return &MigrationState{
		ExportPath:           exportPath,
		APIURL:               apiURL,
		StartTime:            now,
		LastUpdateTime:       now,
		completed:            make(map[Phase]map[string]bool),
		failed:               make(map[Phase]map[string]failure),
		attachmentsCompleted: make(map[string]map[string]bool),
		attachmentsFailed:    make(map[string]map[string]failure),
	}
}

// AttachmentKey builds the composite key for per-entity attachment maps.
func AttachmentKey(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// MarkCompleted records an entity as migrated. Any failure record for
// the same id is cleared — an id is never both completed and failed.
func (s *MigrationState) MarkCompleted(phase Phase, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed[phase] == nil {
		s.completed[phase] = make(map[string]bool)
	}
	s.completed[phase][id] = true
	delete(s.failed[phase], id)
	s.LastUpdateTime = time.Now().UTC()
}

// MarkFailed records a per-entity failure with its error text.
func (s *MigrationState) MarkFailed(phase Phase, id, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed[phase] == nil {
		s.failed[phase] = make(map[string]failure)
	}
	s.failed[phase][id] = failure{Error: errMsg, Timestamp: time.Now().UTC()}
	s.LastUpdateTime = time.Now().UTC()
}

// IsCompleted reports whether an entity already migrated.
func (s *MigrationState) IsCompleted(phase Phase, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[phase][id]
}

// IsFailed reports whether an entity has a recorded failure.
func (s *MigrationState) IsFailed(phase Phase, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.failed[phase][id]
	return ok
}

// ClearFailures forgets one phase's failures so they retry on the next
// run. Completed entities are untouched.
func (s *MigrationState) ClearFailures(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, phase)
	s.LastUpdateTime = time.Now().UTC()
}

// ClearAllFailures forgets every phase's failures and every attachment
// failure.
func (s *MigrationState) ClearAllFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = make(map[Phase]map[string]failure)
	s.attachmentsFailed = make(map[string]map[string]failure)
	s.LastUpdateTime = time.Now().UTC()
}

// SetCurrentPhase records the phase the run is working through.
func (s *MigrationState) SetCurrentPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentPhase = phase
	s.LastUpdateTime = time.Now().UTC()
}

// AddWarning appends an advisory warning.
func (s *MigrationState) AddWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
}

// Warnings returns a copy of the accumulated warnings.
func (s *MigrationState) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.warnings))
	copy(out, s.warnings)
	return out
}

// CompletedCount returns how many entities finished in a phase.
func (s *MigrationState) CompletedCount(phase Phase) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed[phase])
}

// FailedCount returns how many entities failed in a phase.
func (s *MigrationState) FailedCount(phase Phase) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed[phase])
}

// TotalFailed counts failures across all phases.
func (s *MigrationState) TotalFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.failed {
		n += len(m)
	}
	return n
}

// FailedErrors returns id → error text for one phase.
func (s *MigrationState) FailedErrors(phase Phase) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.failed[phase]))
	for id, f := range s.failed[phase] {
		out[id] = f.Error
	}
	return out
}

// MarkAttachmentCompleted records one uploaded attachment file.
func (s *MigrationState) MarkAttachmentCompleted(entityType, entityID, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := AttachmentKey(entityType, entityID)
	if s.attachmentsCompleted[key] == nil {
		s.attachmentsCompleted[key] = make(map[string]bool)
	}
	s.attachmentsCompleted[key][filename] = true
	delete(s.attachmentsFailed[key], filename)
	s.LastUpdateTime = time.Now().UTC()
}

// MarkAttachmentFailed records a per-file upload failure.
func (s *MigrationState) MarkAttachmentFailed(entityType, entityID, filename, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := AttachmentKey(entityType, entityID)
	if s.attachmentsFailed[key] == nil {
		s.attachmentsFailed[key] = make(map[string]failure)
	}
	s.attachmentsFailed[key][filename] = failure{Error: errMsg, Timestamp: time.Now().UTC()}
	s.LastUpdateTime = time.Now().UTC()
}

// IsAttachmentCompleted reports whether a file already uploaded.
func (s *MigrationState) IsAttachmentCompleted(entityType, entityID, filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachmentsCompleted[AttachmentKey(entityType, entityID)][filename]
}

// stateFile is the JSON wire form.
type stateFile struct {
	Version        int       `json:"version"`
	ExportPath     string    `json:"export_path"`
	APIURL         string    `json:"api_url"`
	StartTime      time.Time `json:"start_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
	CurrentPhase   string    `json:"current_phase"`

	Completed map[string][]string        `json:"completed"`
	Failed    map[string][]failureRecord `json:"failed"`
	Warnings  []string                   `json:"warnings"`

	AttachmentsCompleted map[string][]string                  `json:"attachments_completed"`
	AttachmentsFailed    map[string][]attachmentFailureRecord `json:"attachments_failed"`
}

type failureRecord struct {
	ITGlueID  string    `json:"itglue_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type attachmentFailureRecord struct {
	Filename  string    `json:"filename"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Save writes the state file atomically (temp file + rename).
func (s *MigrationState) Save(path string) error {
	s.mu.Lock()
	f := stateFile{
		Version:              FormatVersion,
		ExportPath:           s.ExportPath,
		APIURL:               s.APIURL,
		StartTime:            s.StartTime,
		LastUpdateTime:       s.LastUpdateTime,
		CurrentPhase:         string(s.CurrentPhase),
		Completed:            make(map[string][]string),
		Failed:               make(map[string][]failureRecord),
		Warnings:             append([]string(nil), s.warnings...),
		AttachmentsCompleted: make(map[string][]string),
		AttachmentsFailed:    make(map[string][]attachmentFailureRecord),
	}
	for phase, ids := range s.completed {
		f.Completed[string(phase)] = sortedKeys(ids)
	}
	for phase, fails := range s.failed {
		for _, id := range sortedFailureKeys(fails) {
			fr := fails[id]
			f.Failed[string(phase)] = append(f.Failed[string(phase)], failureRecord{
				ITGlueID: id, Error: fr.Error, Timestamp: fr.Timestamp,
			})
		}
	}
	for key, files := range s.attachmentsCompleted {
		f.AttachmentsCompleted[key] = sortedKeys(files)
	}
	for key, fails := range s.attachmentsFailed {
		for _, name := range sortedFailureKeys(fails) {
			fr := fails[name]
			f.AttachmentsFailed[key] = append(f.AttachmentsFailed[key], attachmentFailureRecord{
				Filename: name, Error: fr.Error, Timestamp: fr.Timestamp,
			})
		}
	}
	s.mu.Unlock()

	return writeJSONAtomic(path, f)
}

// Load reads a state file. A version mismatch is fatal; unknown phase
// names are skipped so newer files with extra phases still load.
func Load(path string) (*MigrationState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("state file %s has version %d, this build requires %d", path, f.Version, FormatVersion)
	}

	s := New(f.ExportPath, f.APIURL)
	s.StartTime = f.StartTime
	s.LastUpdateTime = f.LastUpdateTime
	s.CurrentPhase = Phase(f.CurrentPhase)
	s.warnings = f.Warnings

	for name, ids := range f.Completed {
		phase := Phase(name)
		if !knownPhases[phase] {
			continue
		}
		s.completed[phase] = make(map[string]bool, len(ids))
		for _, id := range ids {
			s.completed[phase][id] = true
		}
	}
	for name, records := range f.Failed {
		phase := Phase(name)
		if !knownPhases[phase] {
			continue
		}
		s.failed[phase] = make(map[string]failure, len(records))
		for _, r := range records {
			s.failed[phase][r.ITGlueID] = failure{Error: r.Error, Timestamp: r.Timestamp}
		}
	}
	for key, files := range f.AttachmentsCompleted {
		s.attachmentsCompleted[key] = make(map[string]bool, len(files))
		for _, name := range files {
			s.attachmentsCompleted[key][name] = true
		}
	}
	for key, records := range f.AttachmentsFailed {
		s.attachmentsFailed[key] = make(map[string]failure, len(records))
		for _, r := range records {
			s.attachmentsFailed[key][r.Filename] = failure{Error: r.Error, Timestamp: r.Timestamp}
		}
	}
	return s, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedFailureKeys(m map[string]failure) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
