package sketch

import (
	"path/filepath"
	"strings"
)

// Extensions are the sketch file suffixes removed by DisplayName.
var Extensions = []string{".kwip", ".kct", ".h5"}

// DisplayName derives a sample name from a sketch path: the base name cut
// at the first known extension found anywhere in it, or the whole base
// name if none occurs.
func DisplayName(path string) string {
	base := filepath.Base(path)
	for _, ext := range Extensions {
		if i := strings.Index(base, ext); i >= 0 {
			return base[:i]
		}
	}
	return base
}
