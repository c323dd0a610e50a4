package biz

import (
	"fmt"
	"path"
	"strings"
)

// AllocatePath maps a content hash to its sharded storage path, relative to
// the CAS root: two 2-character shard directories from the hash prefix, then
// the full hash (plus the original extension, if any) as the leaf name.
// Each shard level fans out to at most 256 entries. Pure: identical inputs
// always produce identical paths.
func AllocatePath(hash, ext string) (string, error) {
	if err := ValidateHash(hash); err != nil {
		return "", err
	}

	leaf := hash
	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		leaf += ext
	}

	return path.Join(hash[0:2], hash[2:4], leaf), nil
}

// ValidateHash checks for a 64-character lowercase hex SHA-256 digest.
func ValidateHash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("invalid content hash %q: want 64 hex characters", hash)
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid content hash %q: non-hex character", hash)
		}
	}
	return nil
}

// FileExtension extracts the extension (with dot) from a filename, or ""
// when there is none. Dotfiles like ".gitignore" count as extension-less.
func FileExtension(filename string) string {
	ext := path.Ext(filename)
	if ext == filename {
		return ""
	}
	return ext
}
