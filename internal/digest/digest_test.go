package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestComputeWritesSidecars(t *testing.T) {
	dir := t.TempDir()
	b := writeFile(t, dir, "b.zip", "bbb")
	a := writeFile(t, dir, "a.tgz", "aaa")

	artifacts, err := Compute([]string{b, a})
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "a.tgz", artifacts[0].Name)
	assert.Equal(t, Bytes([]byte("aaa")), artifacts[0].DigestHex)

	side, err := ReadSidecar(a)
	require.NoError(t, err)
	assert.Equal(t, artifacts[0].DigestHex, side)
	assert.NoError(t, Verify(artifacts[0]))
}

func TestVerifyDetectsModifiedBytes(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.zip", "original")
	artifacts, err := Compute([]string{p})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("tampered"), 0o644))
	err = Verify(artifacts[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, release.ErrIntegrity)
	assert.Contains(t, err.Error(), "a.zip")
}

func TestVerifyDetectsStaleSidecar(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.zip", "content")
	sum, err := File(p)
	require.NoError(t, err)
	require.NoError(t, WriteSidecar(p, Bytes([]byte("other"))))

	err = Verify(release.Artifact{Name: "a.zip", DigestHex: sum, Path: p})
	assert.ErrorIs(t, err, release.ErrIntegrity)
}

func TestVerifyRejectsSha512sumStyleSidecar(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.zip", "content")
	sum, err := File(p)
	require.NoError(t, err)
	// Right digest, but the upload would not match the bytes the stores compare.
	require.NoError(t, os.WriteFile(SidecarPath(p), []byte(sum+" *a.zip\n"), 0o644))

	err = Verify(release.Artifact{Name: "a.zip", DigestHex: sum, Path: p})
	assert.ErrorIs(t, err, release.ErrIntegrity)
	assert.Contains(t, err.Error(), "a.zip.sha512")

	require.NoError(t, WriteSidecar(p, sum))
	assert.NoError(t, Verify(release.Artifact{Name: "a.zip", DigestHex: sum, Path: p}))
}
