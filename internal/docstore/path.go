package docstore

import (
	"strings"

	"github.com/anguillanneuf/BizTrack/internal/utils"
)

// NewID returns a fresh 20-character document id.
func NewID() string {
	return utils.NewDocumentID()
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func segments(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	return parts
}

// IsDocumentPath reports whether path has an even, non-zero number of segments.
func IsDocumentPath(path string) bool {
	n := len(segments(path))
	return n > 0 && n%2 == 0
}

// IsCollectionPath reports whether path has an odd number of segments.
func IsCollectionPath(path string) bool {
	return len(segments(path))%2 == 1
}

// Parent returns the collection a document belongs to.
func Parent(docPath string) string {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return ""
	}
	return docPath[:i]
}

// ID returns the last segment of a document path.
func ID(docPath string) string {
	i := strings.LastIndex(docPath, "/")
	return docPath[i+1:]
}
