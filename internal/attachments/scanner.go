package attachments

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	docFolderRe  = regexp.MustCompile(`^DOC-(\d+)-(\d+)(?:\s+(.*))?$`)
	floorPlansRe = regexp.MustCompile(`^(.+)-floor-plans-photos$`)
	flatFileRe   = regexp.MustCompile(`^(\d+)-(.+)$`)
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".svg": true, ".ico": true,
}

// ScannedFile is one discovered attachment.
type ScannedFile struct {
	Path     string // absolute path on disk
	Name     string // upload filename
	Size     int64
	Embedded bool // image inside a document folder; uploaded by the document processor, not as an attachment
}

// ScanResult holds every discovered attachment keyed by
// (entity type, entity id).
type ScanResult struct {
	Files map[string]map[string][]ScannedFile
}

// FilesFor returns the discovered files for one entity, or nil.
func (r *ScanResult) FilesFor(entityType, entityID string) []ScannedFile {
	if byID, ok := r.Files[entityType]; ok {
		return byID[entityID]
	}
	return nil
}

// DocumentFolder describes one DOC-{org}-{doc} folder on disk.
type DocumentFolder struct {
	Path        string // absolute
	OrgID       string
	DocID       string
	Title       string
	VirtualPath string // path under documents/ minus the DOC segment; "/" for root
}

// Scanner walks the three attachment conventions under an export root.
// The document-folder index is built once and reused.
type Scanner struct {
	root       string
	docFolders map[string]DocumentFolder // doc id → folder
}

// NewScanner creates a Scanner rooted at an export directory.
func NewScanner(root string) *Scanner {
	return &Scanner{root: root}
}

// Scan discovers all attachments under the export root.
func (s *Scanner) Scan() (*ScanResult, error) {
	result := &ScanResult{Files: make(map[string]map[string][]ScannedFile)}

	if err := s.scanEntityTree(result); err != nil {
		return nil, err
	}
	if err := s.scanFloorPlans(result); err != nil {
		return nil, err
	}
	if err := s.scanDocumentImages(result); err != nil {
		return nil, err
	}
	return result, nil
}

// scanEntityTree walks attachments/{entity_type}/{entity_id}/**.
func (s *Scanner) scanEntityTree(result *ScanResult) error {
	base := filepath.Join(s.root, "attachments")
	types, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", base, err)
	}
	for _, t := range types {
		if !t.IsDir() {
			continue
		}
		entityType := t.Name()
		ids, err := os.ReadDir(filepath.Join(base, entityType))
		if err != nil {
			return fmt.Errorf("reading %s: %w", entityType, err)
		}
		for _, id := range ids {
			if !id.IsDir() {
				continue
			}
			files, err := collectFiles(filepath.Join(base, entityType, id.Name()))
			if err != nil {
				return err
			}
			result.add(entityType, id.Name(), files)
		}
	}
	return nil
}

// scanFloorPlans walks {asset_type}-floor-plans-photos directories and
// the legacy unprefixed floor_plans_photos directory. Both support
// {id}/** subdirectories and flat {id}-{filename} files.
func (s *Scanner) scanFloorPlans(result *ScanResult) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("reading export root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var assetType string
		if m := floorPlansRe.FindStringSubmatch(e.Name()); m != nil {
			assetType = m[1]
		} else if e.Name() == "floor_plans_photos" {
			assetType = "floor_plans_photos"
		} else {
			continue
		}

		dir := filepath.Join(s.root, e.Name())
		subs, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, sub := range subs {
			if sub.IsDir() {
				files, err := collectFiles(filepath.Join(dir, sub.Name()))
				if err != nil {
					return err
				}
				result.add(assetType, sub.Name(), files)
				continue
			}
			m := flatFileRe.FindStringSubmatch(sub.Name())
			if m == nil {
				continue
			}
			info, err := sub.Info()
			if err != nil {
				return err
			}
			result.add(assetType, m[1], []ScannedFile{{
				Path: filepath.Join(dir, sub.Name()),
				Name: m[2],
				Size: info.Size(),
			}})
		}
	}
	return nil
}

// scanDocumentImages discovers embedded images inside document folders:
// any file under an "images" path segment, or any file with an image
// extension, keyed to the owning document.
func (s *Scanner) scanDocumentImages(result *ScanResult) error {
	folders, err := s.DocumentFolders()
	if err != nil {
		return err
	}
	for _, folder := range folders {
		var files []ScannedFile
		err := filepath.WalkDir(folder.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if !hasImagesSegment(path) && !imageExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, ScannedFile{Path: path, Name: d.Name(), Size: info.Size(), Embedded: true})
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking %s: %w", folder.Path, err)
		}
		if len(files) > 0 {
			result.add("documents", folder.DocID, files)
		}
	}
	return nil
}

// DocumentFolders indexes every DOC-{org}-{doc} folder under documents/,
// at any nesting depth. The index is built once.
func (s *Scanner) DocumentFolders() (map[string]DocumentFolder, error) {
	if s.docFolders != nil {
		return s.docFolders, nil
	}
	s.docFolders = make(map[string]DocumentFolder)

	base := filepath.Join(s.root, "documents")
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return s.docFolders, nil
	}
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		m := docFolderRe.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		rel, relErr := filepath.Rel(base, filepath.Dir(path))
		if relErr != nil {
			return relErr
		}
		virtual := "/"
		if rel != "." {
			virtual = "/" + filepath.ToSlash(rel)
		}
		s.docFolders[m[2]] = DocumentFolder{
			Path:        path,
			OrgID:       m[1],
			DocID:       m[2],
			Title:       m[3],
			VirtualPath: virtual,
		}
		// Folder claimed; no need to descend looking for nested DOC dirs.
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("indexing document folders: %w", err)
	}
	return s.docFolders, nil
}

// FindDocumentFolder returns the folder for a document id, if present.
func (s *Scanner) FindDocumentFolder(docID string) (DocumentFolder, bool) {
	folders, err := s.DocumentFolders()
	if err != nil {
		return DocumentFolder{}, false
	}
	f, ok := folders[docID]
	return f, ok
}

func (r *ScanResult) add(entityType, entityID string, files []ScannedFile) {
	if len(files) == 0 {
		return
	}
	if r.Files[entityType] == nil {
		r.Files[entityType] = make(map[string][]ScannedFile)
	}
	r.Files[entityType][entityID] = append(r.Files[entityType][entityID], files...)
}

// collectFiles gathers every regular file under dir, recursively.
func collectFiles(dir string) ([]ScannedFile, error) {
	var files []ScannedFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, ScannedFile{Path: path, Name: d.Name(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return files, nil
}

func hasImagesSegment(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == "images" {
			return true
		}
	}
	return false
}
