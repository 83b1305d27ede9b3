package license

import (
	"os"
)

// ArtifactResolver finds the license artifact among ordered candidate paths.
type ArtifactResolver struct {
	paths []string
}

func NewArtifactResolver(paths []string) *ArtifactResolver {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return &ArtifactResolver{paths: out}
}

// Resolve returns the first candidate that is an existing, readable,
// non-empty regular file.
func (r *ArtifactResolver) Resolve() (string, bool) {
	for _, p := range r.paths {
		if usableArtifact(p) {
			return p, true
		}
	}
	return "", false
}

// Primary returns the first configured candidate, the path reported when no
// artifact is found.
func (r *ArtifactResolver) Primary() string {
	if len(r.paths) == 0 {
		return ""
	}
	return r.paths[0]
}

func usableArtifact(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
