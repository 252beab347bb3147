package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Snapshot names embed a UTC timestamp, so lexicographic order is
// chronological and retention can sort plain names.
const (
	snapshotPrefix = "vault-"
	snapshotSuffix = ".db"
)

func snapshotName(at time.Time) string {
	return snapshotPrefix + at.Format("20060102T150405Z") + snapshotSuffix
}

// sha256File computes the SHA-256 hex digest of a file.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeChecksumSidecar hashes the snapshot and writes "<hex>  <name>"
// next to it in shasum -a 256 format, returning the digest.
func writeChecksumSidecar(path string) (string, error) {
	digest, err := sha256File(path)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(path))
	if err := os.WriteFile(path+".sha256", []byte(line), 0o600); err != nil {
		return "", fmt.Errorf("write checksum sidecar: %w", err)
	}
	return digest, nil
}

// VerifySnapshot recomputes a snapshot's digest and checks it against
// its sidecar, the check an operator runs before restoring.
func VerifySnapshot(path string) error {
	raw, err := os.ReadFile(path + ".sha256")
	if err != nil {
		return err
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 2 || len(fields[0]) != hex.EncodedLen(sha256.Size) {
		return fmt.Errorf("malformed checksum sidecar for %s", filepath.Base(path))
	}

	digest, err := sha256File(path)
	if err != nil {
		return err
	}
	if digest != fields[0] {
		return fmt.Errorf("snapshot %s does not match its checksum", filepath.Base(path))
	}
	return nil
}

// pruneSnapshots removes the oldest snapshots and their sidecars past
// keep, reporting how many snapshots went. A keep of 0 or less keeps
// everything. Files outside the vault-*.db pattern are never touched.
func pruneSnapshots(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var snaps []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		snaps = append(snaps, name)
	}
	if len(snaps) <= keep {
		return 0, nil
	}

	sort.Strings(snaps)
	removed := 0
	for _, name := range snaps[:len(snaps)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		_ = os.Remove(filepath.Join(dir, name+".sha256"))
		removed++
	}
	return removed, nil
}
