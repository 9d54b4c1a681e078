// Package digest computes and checks the SHA-512 sidecar files that travel
// with every release artifact.
package digest

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

// File returns the hex SHA-512 of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the hex SHA-512 of b.
func Bytes(b []byte) string {
	sum := sha512.Sum512(b)
	return hex.EncodeToString(sum[:])
}

// SidecarBytes is the content of a ".sha512" file for the given digest.
func SidecarBytes(digestHex string) []byte {
	return []byte(strings.ToLower(digestHex) + "\n")
}

// SidecarPath is the local path of the sidecar for an artifact file.
func SidecarPath(artifactPath string) string {
	return artifactPath + release.SidecarSuffix
}

// ReadSidecar returns the trimmed digest stored next to artifactPath.
func ReadSidecar(artifactPath string) (string, error) {
	b, err := os.ReadFile(SidecarPath(artifactPath))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty sidecar %s", SidecarPath(artifactPath))
	}
	return strings.ToLower(fields[0]), nil
}

// WriteSidecar writes the sidecar for artifactPath.
func WriteSidecar(artifactPath, digestHex string) error {
	return os.WriteFile(SidecarPath(artifactPath), SidecarBytes(digestHex), 0o644)
}

// Compute hashes each file, writes its sidecar and returns the artifacts.
func Compute(paths []string) ([]release.Artifact, error) {
	artifacts := make([]release.Artifact, 0, len(paths))
	for _, p := range paths {
		sum, err := File(p)
		if err != nil {
			return nil, err
		}
		if err := WriteSidecar(p, sum); err != nil {
			return nil, fmt.Errorf("write sidecar for %s: %w", p, err)
		}
		artifacts = append(artifacts, release.Artifact{Name: filepath.Base(p), DigestHex: sum, Path: p})
	}
	return release.SortArtifacts(artifacts), nil
}

// Verify checks that the artifact bytes and its sidecar both match the
// recorded digest, and that the sidecar holds only the digest line. Mismatches are integrity errors.
func Verify(a release.Artifact) error {
	if a.Path == "" {
		return release.Integrityf(a.Name, "no local file to verify")
	}
	want := strings.ToLower(a.DigestHex)
	got, err := File(a.Path)
	if err != nil {
		return release.Integrityf(a.Name, "read artifact: %v", err)
	}
	if got != want {
		return release.Integrityf(a.Name, "content digest %s does not match recorded %s", short(got), short(want))
	}
	side, err := ReadSidecar(a.Path)
	if err != nil {
		return release.Integrityf(a.Name, "read sidecar: %v", err)
	}
	if side != want {
		return release.Integrityf(a.Name, "sidecar digest %s does not match recorded %s", short(side), short(want))
	}
	// The sidecar is uploaded as-is and later compared by content, so it
	// must be exactly what SidecarBytes produces.
	raw, err := os.ReadFile(SidecarPath(a.Path))
	if err != nil {
		return release.Integrityf(a.Name, "read sidecar: %v", err)
	}
	if !bytes.Equal(raw, SidecarBytes(want)) {
		return release.Integrityf(a.Name, "sidecar %s is not in the <hex digest><newline> form", filepath.Base(SidecarPath(a.Path)))
	}
	return nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "…"
	}
	return h
}
