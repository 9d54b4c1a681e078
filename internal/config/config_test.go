package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

const sample = `
project:
  id: JMeter
  version: 5.6
  build_dir: out
repository_type: prod
nexus:
  username: deployer
  staging_profile_id: 4d29c092016673
  timeout: 30s
subfolders:
  - pattern: '_src\.'
    subfolder: sources
  - pattern: '.'
    subfolder: binaries
modules:
  - group: org.apache.jmeter
    artifact: ApacheJMeter_core
    version: 5.6
    files: [core.jar]
`

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	t.Setenv("RELEASE_NEXUS_PASSWORD", "from-env")
	t.Setenv("RELEASE_PROJECT_VERSION", "5.6.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "5.6.1", cfg.Project.Version)
	assert.Equal(t, "from-env", cfg.Nexus.Password)
	assert.Equal(t, release.RepositoryProd, cfg.Type())
	assert.Equal(t, "https://dist.apache.org/repos/dist", cfg.Dist.URL)
	assert.Equal(t, "https://repository.apache.org", cfg.Nexus.URL)
	assert.Equal(t, 30*time.Second, cfg.Nexus.Timeout)
	assert.Equal(t, filepath.Join("out", "releaseState"), cfg.State.Dir)
	require.Len(t, cfg.Modules, 1)
	assert.Equal(t, []string{"core.jar"}, cfg.Modules[0].Files)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, "sources", rules.Subfolder("a_src.zip"))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("RELEASE_PROJECT_ID", "Demo")
	t.Setenv("RELEASE_PROJECT_VERSION", "1.0")
	t.Setenv("RELEASE_AUDIT_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, release.RepositoryTest, cfg.Type())
	assert.Equal(t, "http://127.0.0.1/svn/dist", cfg.Dist.URL)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Nexus.URL)
	assert.Equal(t, "local", cfg.Nexus.StagingProfileID)
	assert.Equal(t, "nexus", cfg.Nexus.RepositoryName)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.KafkaBrokers)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestValidateProdNeedsCredentials(t *testing.T) {
	t.Setenv("RELEASE_PROJECT_ID", "Demo")
	t.Setenv("RELEASE_PROJECT_VERSION", "1.0")
	t.Setenv("RELEASE_REPOSITORY_TYPE", "PROD")

	cfg, err := Load("")
	require.NoError(t, err)
	err = cfg.Validate()
	assert.ErrorIs(t, err, release.ErrConfiguration)
	assert.ErrorContains(t, err, "nexus.staging_profile_id")
}

func TestLoadRejectsUnknownType(t *testing.T) {
	t.Setenv("RELEASE_REPOSITORY_TYPE", "staging")
	_, err := Load("")
	assert.ErrorIs(t, err, release.ErrConfiguration)
}
