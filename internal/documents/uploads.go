package documents

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/glueport/glueport/internal/attachments"
	"github.com/glueport/glueport/internal/platform"
	"github.com/glueport/glueport/internal/state"
)

// IT Glue attachment directory names → destination entity type names.
var entityTypeNames = map[string]string{
	"configurations": "configuration",
	"documents":      "document",
	"passwords":      "password",
	"locations":      "location",
}

// destEntityType maps an IT Glue entity type name to the destination's.
// Names listed in knownAssetTypes are custom assets; anything else falls
// back to custom_asset with a warning.
func destEntityType(itglueType string, knownAssetTypes map[string]bool) (name string, warn bool) {
	if n, ok := entityTypeNames[itglueType]; ok {
		return n, false
	}
	if knownAssetTypes[itglueType] {
		return "custom_asset", false
	}
	return "custom_asset", true
}

// UploadEntityAttachments uploads every discovered attachment for one
// entity through the create-ticket + presigned-PUT flow. Embedded
// document images are skipped; the Processor uploads those. Files
// already recorded in state are skipped; per-file failures are recorded
// and do not stop the remaining files. Returns advisory warnings.
func UploadEntityAttachments(
	client *platform.Client,
	scan *attachments.ScanResult,
	st *state.MigrationState,
	entityType, entityID, orgID, destEntityID string,
	knownAssetTypes map[string]bool,
) []string {
	files := scan.FilesFor(entityType, entityID)
	if len(files) == 0 {
		return nil
	}

	var warnings []string
	destType, unknown := destEntityType(entityType, knownAssetTypes)
	if unknown {
		warnings = append(warnings, fmt.Sprintf("attachments for unknown entity type %q uploaded as custom_asset", entityType))
	}

	for _, f := range files {
		if f.Embedded {
			continue
		}
		if st.IsAttachmentCompleted(entityType, entityID, f.Name) {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			st.MarkAttachmentFailed(entityType, entityID, f.Name, err.Error())
			continue
		}
		contentType := attachmentContentType(f.Path, data)

		ticket, err := client.CreateAttachment(orgID, destType, destEntityID, f.Name, contentType, int64(len(data)))
		if err != nil {
			st.MarkAttachmentFailed(entityType, entityID, f.Name, err.Error())
			continue
		}
		if err := client.PutPresigned(ticket.UploadURL, data, contentType); err != nil {
			st.MarkAttachmentFailed(entityType, entityID, f.Name, err.Error())
			continue
		}
		st.MarkAttachmentCompleted(entityType, entityID, f.Name)
	}
	return warnings
}

// attachmentContentType resolves a MIME type for an arbitrary file:
// extension first, then content sniffing.
func attachmentContentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	if ct := sniffImage(data); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
