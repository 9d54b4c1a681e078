package release

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDerivesDefaults(t *testing.T) {
	p, err := NewBuilder().
		ProjectID("JMeter").
		Version("5.2.0").
		CommitID("abc1234567890").
		DistURL("https://dist.apache.org/repos/dist/").
		NexusURL("https://repository.apache.org/service/local/").
		RepositoryID("orgapachejmeter-1042").
		Artifacts(
			Artifact{Name: "apache-jmeter-5.2.0_src.zip", DigestHex: "bb22"},
			Artifact{Name: "apache-jmeter-5.2.0.zip", DigestHex: "aa11"},
		).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "v5.2.0", p.Tag)
	assert.Equal(t, "dev/jmeter/v5.2.0", p.StageFolder)
	assert.Equal(t, "release/jmeter", p.ReleaseFolder)
	assert.Equal(t, "https://dist.apache.org/repos/dist/dev/jmeter/v5.2.0", p.StagingStoreURI)
	assert.Equal(t, "https://dist.apache.org/repos/dist/release/jmeter", p.ReleaseStoreURI)
	assert.Equal(t, "https://repository.apache.org/content/repositories/orgapachejmeter-1042", p.BinaryRepositoryURI)
	assert.Equal(t, "abc1234567", p.ShortCommitID())
	require.Len(t, p.Artifacts, 2)
	assert.Equal(t, "apache-jmeter-5.2.0.zip", p.Artifacts[0].Name)
}

func TestBuilderRejectsMissingFields(t *testing.T) {
	_, err := NewBuilder().Version("1.0").Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "project id")
	assert.Contains(t, err.Error(), "commit id")
}

func TestBuilderRejectsDuplicateArtifacts(t *testing.T) {
	_, err := NewBuilder().ProjectID("p").Version("1").CommitID("c").
		DistURL("http://d").NexusURL("http://n").
		Artifacts(Artifact{Name: "a.zip", DigestHex: "1"}, Artifact{Name: "a.zip", DigestHex: "2"}).
		Build()
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseRepositoryType(t *testing.T) {
	rt, err := ParseRepositoryType("prod")
	require.NoError(t, err)
	assert.Equal(t, RepositoryProd, rt)
	assert.Equal(t, "https://dist.apache.org/repos/dist", rt.DefaultDistURL())

	rt, err = ParseRepositoryType("")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", rt.DefaultNexusURL())

	_, err = ParseRepositoryType("staging")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestErrorMatchesKind(t *testing.T) {
	err := &Error{Kind: KindPromotion, Op: "release repository", Endpoint: "http://nexus", Err: errors.New("status open")}
	assert.ErrorIs(t, err, ErrPromotion)
	assert.NotErrorIs(t, err, ErrOrdering)
	assert.Equal(t, "promotion error: release repository [http://nexus]: status open", err.Error())
}
