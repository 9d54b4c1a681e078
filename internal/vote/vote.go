// Package vote renders the vote announcement for a staged release
// candidate.
package vote

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

//go:embed vote.tmpl
var defaultTemplate string

// Data is what a vote template can reference.
type Data struct {
	Project        string
	ProjectURLName string
	Version        string
	CommitID       string
	ShortCommitID  string
	Tag            string
	StagingURI     string
	ReleaseURI     string
	RepositoryID   string
	RepositoryURI  string
	DistRevision   string
	Artifacts      []release.Artifact
	Footnote       string
}

type Generator struct {
	tmpl *template.Template
}

// New uses the built-in announcement template.
func New() *Generator {
	return &Generator{tmpl: template.Must(template.New("vote").Option("missingkey=error").Parse(defaultTemplate))}
}

// FromFile uses the template at path instead, with the same Data.
func FromFile(path string) (*Generator, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, release.Configurationf("read vote template: %v", err)
	}
	t, err := template.New(filepath.Base(path)).Option("missingkey=error").Parse(string(b))
	if err != nil {
		return nil, release.Configurationf("parse vote template %s: %v", path, err)
	}
	return &Generator{tmpl: t}, nil
}

// Footnote lists "<sha512>\n*<name>" per artifact in name order.
func Footnote(artifacts []release.Artifact) string {
	lines := make([]string, 0, len(artifacts))
	for _, a := range release.SortArtifacts(artifacts) {
		lines = append(lines, strings.ToLower(a.DigestHex)+"\n*"+a.Name)
	}
	return strings.Join(lines, "\n")
}

// Render fails when a field the announcement depends on is missing.
// distRevision is optional.
func (g *Generator) Render(p release.Params, distRevision string) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}
	data := Data{
		Project:        p.ProjectID,
		ProjectURLName: p.ProjectURLName(),
		Version:        p.Version,
		CommitID:       p.CommitID,
		ShortCommitID:  p.ShortCommitID(),
		Tag:            p.Tag,
		StagingURI:     p.StagingStoreURI,
		ReleaseURI:     p.ReleaseStoreURI,
		RepositoryID:   p.BinaryRepositoryID,
		RepositoryURI:  p.BinaryRepositoryURI,
		DistRevision:   distRevision,
		Artifacts:      release.SortArtifacts(p.Artifacts),
		Footnote:       Footnote(p.Artifacts),
	}
	var b strings.Builder
	if err := g.tmpl.Execute(&b, data); err != nil {
		return "", &release.Error{Kind: release.KindConfiguration, Op: "render vote text", Err: err}
	}
	return b.String(), nil
}

// Render uses the built-in template.
func Render(p release.Params, distRevision string) (string, error) {
	return New().Render(p, distRevision)
}

func validate(p release.Params) error {
	var missing []string
	if p.Version == "" {
		missing = append(missing, "version")
	}
	if len(p.CommitID) < 10 {
		missing = append(missing, "commit id (10+ characters)")
	}
	if p.Tag == "" {
		missing = append(missing, "tag")
	}
	if p.StagingStoreURI == "" {
		missing = append(missing, "staging URI")
	}
	if p.BinaryRepositoryID == "" {
		missing = append(missing, "repository id")
	}
	if p.BinaryRepositoryURI == "" {
		missing = append(missing, "repository URI")
	}
	if len(p.Artifacts) == 0 {
		missing = append(missing, "artifacts")
	}
	if len(missing) > 0 {
		return &release.Error{Kind: release.KindConfiguration, Op: "render vote text",
			Err: fmt.Errorf("missing %s", strings.Join(missing, ", "))}
	}
	return nil
}

// WriteFile writes text to path, creating parent directories.
func WriteFile(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vote directory: %w", err)
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// DefaultPath is the announcement location under a build directory.
func DefaultPath(buildDir string) string {
	return filepath.Join(buildDir, "prepareVote", "mail.txt")
}
