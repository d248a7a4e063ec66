package documents

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/glueport/glueport/internal/attachments"
	"github.com/glueport/glueport/internal/platform"
)

var (
	// Tag-scoped: only the src attribute value of <img> tags is touched.
	imgSrcRe = regexp.MustCompile(`(?i)(<img\b[^>]*?\bsrc=)(["'])([^"']*)(["'])`)

	// tiptap chokes on a <br> that sits immediately before a closing
	// </li> or a nested list; mid-item breaks stay.
	brBeforeCloseLiRe = regexp.MustCompile(`(?i)<br\s*/?>(\s*</li>)`)
	brBeforeListRe    = regexp.MustCompile(`(?i)<br\s*/?>(\s*<(?:ul|ol)\b)`)
)

// Processor rewrites document HTML, uploading embedded images through a
// per-run cache keyed by the image file's canonical absolute path. The
// cache spans documents, so a shared image uploads once per run.
type Processor struct {
	root    string
	client  *platform.Client
	scanner *attachments.Scanner
	cache   map[string]string // canonical absolute path → stable URL
}

// NewProcessor creates a Processor over an export root.
func NewProcessor(root string, client *platform.Client, scanner *attachments.Scanner) *Processor {
	return &Processor{
		root:    root,
		client:  client,
		scanner: scanner,
		cache:   make(map[string]string),
	}
}

// ClearCache drops the upload cache. Not needed between organizations of
// one export — canonical paths are unique across them — but callers
// reusing one Processor across unrelated exports should clear it.
func (p *Processor) ClearCache() {
	p.cache = make(map[string]string)
}

// CacheSize reports how many files uploaded so far this run.
func (p *Processor) CacheSize() int {
	return len(p.cache)
}

// ProcessDocument loads a document's HTML, cleans its markup, uploads
// every embedded local image, and rewrites img src attributes to the
// returned stable URLs. Per-document and per-image problems become
// warnings, never errors; the returned HTML may be empty.
func (p *Processor) ProcessDocument(docID, orgID string) (string, []string) {
	var warnings []string

	folder, ok := p.scanner.FindDocumentFolder(docID)
	if !ok {
		return "", []string{fmt.Sprintf("document %s: no DOC-*-%s folder under documents/", docID, docID)}
	}

	htmlPath, html, err := loadHTML(folder.Path)
	if err != nil {
		return "", []string{fmt.Sprintf("document %s: %v", docID, err)}
	}

	html = cleanMarkup(html)

	replacements := make(map[string]string)
	for _, m := range imgSrcRe.FindAllStringSubmatch(html, -1) {
		src := m[3]
		if _, done := replacements[src]; done || isExternal(src) {
			continue
		}
		resolved, ok := p.resolveImage(htmlPath, folder.Path, src)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("document %s: image %q not found", docID, src))
			continue
		}
		stable, err := p.uploadImage(resolved, orgID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("document %s: uploading %q: %v", docID, src, err))
			continue
		}
		replacements[src] = stable
	}

	html = imgSrcRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := imgSrcRe.FindStringSubmatch(tag)
		if stable, ok := replacements[m[3]]; ok {
			return m[1] + m[2] + stable + m[4]
		}
		return tag
	})

	return html, warnings
}

// resolveImage maps an img src to a file on disk, trying in order:
// relative to the HTML file, relative to the folder root, the same with
// a leading slash stripped, and the URL-decoded variant.
func (p *Processor) resolveImage(htmlPath, folderPath, src string) (string, bool) {
	htmlDir := filepath.Dir(htmlPath)
	candidates := []string{
		filepath.Join(htmlDir, filepath.FromSlash(src)),
		filepath.Join(folderPath, filepath.FromSlash(src)),
	}
	if strings.HasPrefix(src, "/") {
		candidates = append(candidates, filepath.Join(folderPath, filepath.FromSlash(strings.TrimPrefix(src, "/"))))
	}
	if decoded, err := url.PathUnescape(src); err == nil && decoded != src {
		candidates = append(candidates,
			filepath.Join(htmlDir, filepath.FromSlash(decoded)),
			filepath.Join(folderPath, filepath.FromSlash(decoded)))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// uploadImage uploads one resolved file at most once per run. The cache
// key is the canonical absolute path, so the same file referenced from
// several documents uploads exactly once.
func (p *Processor) uploadImage(path, orgID string) (string, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if stable, ok := p.cache[canonical]; ok {
		return stable, nil
	}

	data, err := os.ReadFile(canonical)
	if err != nil {
		return "", err
	}

	contentType, ext := detectImageType(canonical, data)
	name := filepath.Base(canonical)
	if filepath.Ext(name) == "" && ext != "" {
		name += ext
	}

	ticket, err := p.client.UploadDocumentImage(orgID, name, contentType, int64(len(data)), "")
	if err != nil {
		return "", err
	}
	if err := p.client.PutPresigned(ticket.UploadURL, data, contentType); err != nil {
		return "", err
	}

	p.cache[canonical] = ticket.StableURL
	return ticket.StableURL, nil
}

// loadHTML finds and decodes the document's HTML file: index.html or
// index.htm first, else the first *.html/*.htm by name.
func loadHTML(folderPath string) (string, string, error) {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return "", "", fmt.Errorf("reading folder: %w", err)
	}
	var htmlFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lower := strings.ToLower(e.Name())
		if lower == "index.html" || lower == "index.htm" {
			htmlFiles = append([]string{e.Name()}, htmlFiles...)
			continue
		}
		if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
			htmlFiles = append(htmlFiles, e.Name())
		}
	}
	if len(htmlFiles) == 0 {
		return "", "", fmt.Errorf("no HTML file in %s", folderPath)
	}
	if len(htmlFiles) > 1 {
		sort.Strings(htmlFiles[1:])
	}

	path := filepath.Join(folderPath, htmlFiles[0])
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", htmlFiles[0], err)
	}
	return path, decodeText(data), nil
}

// cleanMarkup strips the <br> variants that break the destination's
// editor, leaving all other markup byte-identical.
func cleanMarkup(html string) string {
	html = brBeforeCloseLiRe.ReplaceAllString(html, "$1")
	html = brBeforeListRe.ReplaceAllString(html, "$1")
	return html
}

func isExternal(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:")
}

// decodeText decodes UTF-8 (with optional BOM) or falls back to latin-1.
func decodeText(data []byte) string {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}
