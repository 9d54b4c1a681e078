// Package state tracks where a release stands between staging and
// promotion, and persists that across runs.
package state

import (
	"errors"
	"sort"
	"time"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

type Phase string

const (
	PhaseCreated  Phase = "CREATED"
	PhaseStaged   Phase = "STAGED"
	PhasePromoted Phase = "PROMOTED"
)

// Phases lists every phase in lifecycle order.
var Phases = []string{string(PhaseCreated), string(PhaseStaged), string(PhasePromoted)}

var ErrNotFound = errors.New("release record not found")

// Record is the persisted progress of one release, keyed by tag.
type Record struct {
	Tag       string `json:"tag" yaml:"tag"`
	ProjectID string `json:"projectId" yaml:"projectId"`
	Version   string `json:"version" yaml:"version"`
	CommitID  string `json:"commitId" yaml:"commitId"`
	Phase     Phase  `json:"phase" yaml:"phase"`

	DistStaged      bool              `json:"distStaged" yaml:"distStaged"`
	DistRevision    string            `json:"distRevision,omitempty" yaml:"distRevision,omitempty"`
	StagedArtifacts map[string]string `json:"stagedArtifacts,omitempty" yaml:"stagedArtifacts,omitempty"`

	RepositoryStaged bool   `json:"repositoryStaged" yaml:"repositoryStaged"`
	RepositoryID     string `json:"repositoryId,omitempty" yaml:"repositoryId,omitempty"`

	DistPromoted       bool   `json:"distPromoted" yaml:"distPromoted"`
	PromotedRevision   string `json:"promotedRevision,omitempty" yaml:"promotedRevision,omitempty"`
	RepositoryReleased bool   `json:"repositoryReleased" yaml:"repositoryReleased"`

	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

func NewRecord(p release.Params) *Record {
	return &Record{
		Tag:       p.Tag,
		ProjectID: p.ProjectID,
		Version:   p.Version,
		CommitID:  p.CommitID,
		Phase:     PhaseCreated,
		UpdatedAt: time.Now().UTC(),
	}
}

func (r *Record) Clone() *Record {
	c := *r
	if r.StagedArtifacts != nil {
		c.StagedArtifacts = make(map[string]string, len(r.StagedArtifacts))
		for k, v := range r.StagedArtifacts {
			c.StagedArtifacts[k] = v
		}
	}
	return &c
}

// Artifacts reconstructs the staged artifacts, without local paths.
func (r *Record) Artifacts() []release.Artifact {
	out := make([]release.Artifact, 0, len(r.StagedArtifacts))
	for name, sum := range r.StagedArtifacts {
		out = append(out, release.Artifact{Name: name, DigestHex: sum})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Record) MarkDistStaged(artifacts []release.Artifact, revision string) error {
	if r.Phase == PhasePromoted {
		return release.Orderingf("stage dist", "release %s is already promoted", r.Tag)
	}
	r.DistStaged = true
	r.StagedArtifacts = release.Digests(artifacts)
	if revision != "" {
		r.DistRevision = revision
	}
	r.advance()
	return nil
}

func (r *Record) MarkRepositoryStaged(repositoryID string) error {
	if r.Phase == PhasePromoted {
		return release.Orderingf("stage repository", "release %s is already promoted", r.Tag)
	}
	if r.RepositoryStaged && r.RepositoryID != repositoryID {
		return release.Orderingf("stage repository", "release %s is bound to repository %s, not %s", r.Tag, r.RepositoryID, repositoryID)
	}
	r.RepositoryStaged = true
	r.RepositoryID = repositoryID
	r.advance()
	return nil
}

// BeginPromotion checks that both halves are staged. A promoted record
// passes so an interrupted promotion can be confirmed.
func (r *Record) BeginPromotion() error {
	if r.Phase != PhaseStaged && r.Phase != PhasePromoted {
		return release.Orderingf("promote", "release %s is %s, want %s (dist staged: %t, repository staged: %t)",
			r.Tag, r.Phase, PhaseStaged, r.DistStaged, r.RepositoryStaged)
	}
	return nil
}

func (r *Record) MarkDistPromoted(revision string) error {
	if err := r.BeginPromotion(); err != nil {
		return err
	}
	r.DistPromoted = true
	if revision != "" {
		r.PromotedRevision = revision
	}
	r.advance()
	return nil
}

func (r *Record) MarkRepositoryReleased() error {
	if err := r.BeginPromotion(); err != nil {
		return err
	}
	r.RepositoryReleased = true
	r.advance()
	return nil
}

func (r *Record) advance() {
	switch {
	case r.DistPromoted && r.RepositoryReleased:
		r.Phase = PhasePromoted
	case r.DistStaged && r.RepositoryStaged:
		r.Phase = PhaseStaged
	default:
		r.Phase = PhaseCreated
	}
	r.UpdatedAt = time.Now().UTC()
}
