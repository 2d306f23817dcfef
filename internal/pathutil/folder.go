package pathutil

import (
	"net/url"
	"path/filepath"
	"strings"
)

// IsRemote reports whether folder is a bucket URL (s3://, gs://, file://, mem://)
// rather than a filesystem path.
func IsRemote(folder string) bool {
	folder = strings.TrimSpace(folder)
	idx := strings.Index(folder, "://")
	if idx <= 0 {
		return false
	}
	parsed, err := url.Parse(folder)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && strings.EqualFold(parsed.Scheme, folder[:idx])
}

// ResolveFolder anchors a relative filesystem folder at base. Remote folders
// and absolute paths are returned cleaned but otherwise unchanged.
func ResolveFolder(base, folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return ""
	}
	if IsRemote(folder) {
		return folder
	}
	if filepath.IsAbs(folder) {
		return filepath.Clean(folder)
	}
	if strings.TrimSpace(base) == "" {
		if abs, err := filepath.Abs(folder); err == nil {
			return abs
		}
		return filepath.Clean(folder)
	}
	return filepath.Clean(filepath.Join(base, folder))
}
