package documents

import (
	"bytes"
	"path/filepath"
	"strings"
)

var imageContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
}

var contentTypeExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// detectImageType resolves a content type by extension first, then by
// magic-number sniffing, defaulting to image/png. The returned ext is
// what an extensionless filename should gain.
func detectImageType(path string, data []byte) (contentType, ext string) {
	if ct, ok := imageContentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct, ""
	}
	if ct := sniffImage(data); ct != "" {
		return ct, contentTypeExts[ct]
	}
	return "image/png", ".png"
}

// sniffImage recognizes PNG, JPEG, GIF, WebP and BMP signatures.
func sniffImage(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	}
	return ""
}
