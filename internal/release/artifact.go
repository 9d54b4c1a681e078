package release

import (
	"sort"
	"strings"
)

// SidecarSuffix is appended to an artifact name to form its digest sidecar.
const SidecarSuffix = ".sha512"

// Artifact is a named build output together with its SHA-512 digest.
// Path is the local file and is empty when the artifact was reconstructed
// from persisted release state.
type Artifact struct {
	Name      string `json:"name" yaml:"name"`
	DigestHex string `json:"sha512" yaml:"sha512"`
	Path      string `json:"-" yaml:"-"`
}

// SidecarName returns the name of the digest file stored next to the artifact.
func (a Artifact) SidecarName() string { return a.Name + SidecarSuffix }

// SortArtifacts returns a copy of artifacts ordered by name.
func SortArtifacts(artifacts []Artifact) []Artifact {
	out := append([]Artifact(nil), artifacts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Digests maps artifact names to their digests.
func Digests(artifacts []Artifact) map[string]string {
	m := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		m[a.Name] = strings.ToLower(a.DigestHex)
	}
	return m
}
