package staging

import (
	"sort"
	"strings"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

// Changeset classifies the current artifacts against what an earlier run
// staged. Every list is ordered by name.
type Changeset struct {
	Added     []release.Artifact
	Modified  []release.Artifact
	Removed   []release.Artifact
	Unchanged []release.Artifact
}

// Upload lists the artifacts whose bytes must be sent.
func (c Changeset) Upload() []release.Artifact {
	return release.SortArtifacts(append(append([]release.Artifact(nil), c.Added...), c.Modified...))
}

func (c Changeset) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// ComputeChanges compares previous (name -> sha512) with current.
func ComputeChanges(previous map[string]string, current []release.Artifact) Changeset {
	var cs Changeset
	seen := make(map[string]bool, len(current))
	for _, a := range release.SortArtifacts(current) {
		seen[a.Name] = true
		old, ok := previous[a.Name]
		switch {
		case !ok:
			cs.Added = append(cs.Added, a)
		case !strings.EqualFold(old, a.DigestHex):
			cs.Modified = append(cs.Modified, a)
		default:
			cs.Unchanged = append(cs.Unchanged, a)
		}
	}
	names := make([]string, 0, len(previous))
	for name := range previous {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		cs.Removed = append(cs.Removed, release.Artifact{Name: name, DigestHex: previous[name]})
	}
	return cs
}
