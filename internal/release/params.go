package release

import (
	"fmt"
	"net/url"
	"strings"
)

// RepositoryType selects between the local test environment and the
// production release infrastructure.
type RepositoryType string

const (
	RepositoryTest RepositoryType = "TEST"
	RepositoryProd RepositoryType = "PROD"
)

// ParseRepositoryType accepts the type case-insensitively; empty means TEST.
func ParseRepositoryType(s string) (RepositoryType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(RepositoryTest):
		return RepositoryTest, nil
	case string(RepositoryProd):
		return RepositoryProd, nil
	}
	return "", Configurationf("unknown repository type %q", s)
}

// DefaultDistURL is the dist store root for the repository type.
func (t RepositoryType) DefaultDistURL() string {
	if t == RepositoryProd {
		return "https://dist.apache.org/repos/dist"
	}
	return "http://127.0.0.1/svn/dist"
}

// DefaultNexusURL is the binary repository base URL for the repository type.
func (t RepositoryType) DefaultNexusURL() string {
	if t == RepositoryProd {
		return "https://repository.apache.org"
	}
	return "http://127.0.0.1:8080"
}

// Params is the immutable snapshot passed between release components.
// Construct it with a Builder.
type Params struct {
	ProjectID           string
	Version             string
	CommitID            string
	Tag                 string
	Artifacts           []Artifact
	StageFolder         string
	ReleaseFolder       string
	StagingStoreURI     string
	ReleaseStoreURI     string
	BinaryRepositoryURI string
	BinaryRepositoryID  string
}

// ShortCommitID is the first ten characters of the commit id.
func (p Params) ShortCommitID() string {
	if len(p.CommitID) <= 10 {
		return p.CommitID
	}
	return p.CommitID[:10]
}

// ProjectURLName is the lower-cased project id used in paths and URLs.
func (p Params) ProjectURLName() string { return strings.ToLower(p.ProjectID) }

// WithRepository returns a copy bound to an opened staging repository.
func (p Params) WithRepository(id, uri string) Params {
	p.BinaryRepositoryID = id
	p.BinaryRepositoryURI = uri
	p.Artifacts = append([]Artifact(nil), p.Artifacts...)
	return p
}

// Builder collects release parameters and validates them before producing
// an immutable Params value. Derived defaults are computed in Build.
type Builder struct {
	projectID     string
	version       string
	commitID      string
	tag           string
	artifacts     []Artifact
	distURL       string
	nexusURL      string
	repositoryID  string
	stageFolder   string
	releaseFolder string
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) ProjectID(v string) *Builder     { b.projectID = v; return b }
func (b *Builder) Version(v string) *Builder       { b.version = v; return b }
func (b *Builder) CommitID(v string) *Builder      { b.commitID = v; return b }
func (b *Builder) Tag(v string) *Builder           { b.tag = v; return b }
func (b *Builder) DistURL(v string) *Builder       { b.distURL = v; return b }
func (b *Builder) NexusURL(v string) *Builder      { b.nexusURL = v; return b }
func (b *Builder) RepositoryID(v string) *Builder  { b.repositoryID = v; return b }
func (b *Builder) StageFolder(v string) *Builder   { b.stageFolder = v; return b }
func (b *Builder) ReleaseFolder(v string) *Builder { b.releaseFolder = v; return b }

func (b *Builder) Artifacts(a ...Artifact) *Builder {
	b.artifacts = append(b.artifacts, a...)
	return b
}

// Build validates required fields and returns the parameters.
func (b *Builder) Build() (Params, error) {
	var missing []string
	if b.projectID == "" {
		missing = append(missing, "project id")
	}
	if b.version == "" {
		missing = append(missing, "version")
	}
	if b.commitID == "" {
		missing = append(missing, "commit id")
	}
	if b.distURL == "" {
		missing = append(missing, "dist url")
	}
	if b.nexusURL == "" {
		missing = append(missing, "nexus url")
	}
	if len(missing) > 0 {
		return Params{}, Configurationf("missing release parameters: %s", strings.Join(missing, ", "))
	}
	seen := make(map[string]struct{}, len(b.artifacts))
	for _, a := range b.artifacts {
		if a.Name == "" || a.DigestHex == "" {
			return Params{}, Configurationf("artifact %q has no name or digest", a.Name)
		}
		if strings.Contains(a.Name, "/") {
			return Params{}, Configurationf("artifact name %q must not contain a path separator", a.Name)
		}
		if _, dup := seen[a.Name]; dup {
			return Params{}, Configurationf("duplicate artifact %q", a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	p := Params{
		ProjectID:          b.projectID,
		Version:            b.version,
		CommitID:           b.commitID,
		Tag:                b.tag,
		Artifacts:          SortArtifacts(b.artifacts),
		StageFolder:        b.stageFolder,
		ReleaseFolder:      b.releaseFolder,
		BinaryRepositoryID: b.repositoryID,
	}
	if p.Tag == "" {
		p.Tag = "v" + p.Version
	}
	if p.StageFolder == "" {
		p.StageFolder = fmt.Sprintf("dev/%s/%s", p.ProjectURLName(), p.Tag)
	}
	if p.ReleaseFolder == "" {
		p.ReleaseFolder = "release/" + p.ProjectURLName()
	}
	p.StagingStoreURI = JoinURL(b.distURL, p.StageFolder)
	p.ReleaseStoreURI = JoinURL(b.distURL, p.ReleaseFolder)
	if p.BinaryRepositoryID != "" {
		uri, err := RepositoryURI(b.nexusURL, p.BinaryRepositoryID)
		if err != nil {
			return Params{}, err
		}
		p.BinaryRepositoryURI = uri
	}
	return p, nil
}

// JoinURL appends a slash-separated path to a base URL.
func JoinURL(base, p string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}

// RepositoryURI is the content URL of a staging repository on the Nexus host.
func RepositoryURI(nexusURL, repositoryID string) (string, error) {
	return ReplacePath(nexusURL, "/content/repositories/"+repositoryID)
}

// ReplacePath keeps scheme, host and port of raw and substitutes its path.
func ReplacePath(raw, p string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", Configurationf("invalid url %q: %v", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", Configurationf("invalid url %q: scheme and host required", raw)
	}
	u.Path = p
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
