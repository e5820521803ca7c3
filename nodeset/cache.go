package nodeset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
)

// cacheVersion changes whenever the scanner would find different names in the
// same files
const cacheVersion = 1

// scanCache is a custom_nodes scan persisted between runs. It is only trusted
// while its fingerprint matches the current repository list.
type scanCache struct {
	Version     int    `json:"version"`
	Root        string `json:"root"`
	Fingerprint string `json:"fingerprint"`
	Installed   Set    `json:"installed"`
}

var errStaleCache = errors.New("scan cache is stale")

// readScanCache loads the cache at path, failing with errStaleCache when it was
// written for another installation, another repository list or another version
func readScanCache(path, root, fingerprint string) (Set, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	var c scanCache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if c.Version != cacheVersion || c.Root != root || c.Fingerprint != fingerprint || c.Installed == nil {
		return nil, errStaleCache
	}
	return c.Installed, nil
}

// writeScanCache replaces the cache at path. The file is written next to its
// final name and renamed so readers never see a partial cache.
func writeScanCache(path, root, fingerprint string, installed Set) error {
	data, err := json.Marshal(scanCache{
		Version:     cacheVersion,
		Root:        root,
		Fingerprint: fingerprint,
		Installed:   installed,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(snappy.Encode(nil, data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
