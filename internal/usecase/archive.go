package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	idSanitizer   = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	hostSanitizer = regexp.MustCompile(`[^a-z0-9.-]`)
)

const maxKeyIDLength = 64

var contentTypeExtensions = map[string]string{
	"application/json":       ".json",
	"application/pdf":        ".pdf",
	"application/xml":        ".xml",
	"application/zip":        ".zip",
	"application/gzip":       ".gz",
	"application/javascript": ".js",
	"text/html":              ".html",
	"text/plain":             ".txt",
	"text/markdown":          ".md",
	"text/csv":               ".csv",
	"text/xml":               ".xml",
	"image/png":              ".png",
	"image/jpeg":             ".jpg",
	"image/gif":              ".gif",
	"image/svg+xml":          ".svg",
}

var urlExtensions = map[string]bool{
	".json": true, ".pdf": true, ".xml": true, ".zip": true, ".gz": true,
	".js": true, ".html": true, ".htm": true, ".txt": true, ".md": true,
	".csv": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".tar": true,
}

// contentHash returns the hex SHA-256 of body.
func contentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// archiveKey builds <host>/<yyyy-mm-dd>/<id>_<sha8><ext>.
func archiveKey(u *url.URL, requestID, sha string, contentType string, at time.Time) string {
	id := idSanitizer.ReplaceAllString(requestID, "_")
	if len(id) > maxKeyIDLength {
		id = id[:maxKeyIDLength]
	}
	if id == "" {
		id = "request"
	}

	host := hostSanitizer.ReplaceAllString(strings.ToLower(u.Hostname()), "_")

	return fmt.Sprintf("%s/%s/%s_%s%s", host, at.UTC().Format("2006-01-02"), id, sha[:8], extension(u, contentType))
}

// extension prefers a known extension on the URL path and falls back to
// the content type.
func extension(u *url.URL, contentType string) string {
	if ext := strings.ToLower(path.Ext(u.Path)); urlExtensions[ext] {
		return ext
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if ext, ok := contentTypeExtensions[mediaType]; ok {
		return ext
	}
	return ".bin"
}
