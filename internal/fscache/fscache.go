// Package fscache memoizes repeated filesystem queries within a single
// process: os.Stat results, SHA-256 digests, and parsed YAML documents.
// Grounded on original_source's FSCache, which wraps os.path.* and caches
// by (method, args); this adaptation targets the specific operations the
// run executor repeats across a pipeline's many known_paths instead of
// proxying the whole os.path surface.
package fscache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/goccy/go-yaml"
)

const defaultCapacity = 4096

// Cache memoizes Stat, SHA256, and LoadYAML by absolute path.
type Cache struct {
	stat   *lru.Cache[string, statEntry]
	sha    *lru.Cache[string, string]
	yamlC  *lru.Cache[string, []byte]
}

type statEntry struct {
	info os.FileInfo
	err  error
}

// New builds a cache with the given per-operation entry capacity. A
// capacity of 0 uses defaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	stat, _ := lru.New[string, statEntry](capacity)
	sha, _ := lru.New[string, string](capacity)
	yamlC, _ := lru.New[string, []byte](capacity)
	return &Cache{stat: stat, sha: sha, yamlC: yamlC}
}

// Stat memoizes os.Stat(path).
func (c *Cache) Stat(path string) (os.FileInfo, error) {
	if e, ok := c.stat.Get(path); ok {
		return e.info, e.err
	}
	info, err := os.Stat(path)
	c.stat.Add(path, statEntry{info: info, err: err})
	return info, err
}

// Exists reports whether path exists, via the memoized Stat.
func (c *Cache) Exists(path string) bool {
	_, err := c.Stat(path)
	return err == nil
}

// SHA256 memoizes the hex-encoded SHA-256 digest of path's contents.
func (c *Cache) SHA256(path string) (string, error) {
	if sum, ok := c.sha.Get(path); ok {
		return sum, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	c.sha.Add(path, sum)
	return sum, nil
}

// SetSHA256 seeds the cache with a known digest, e.g. one recorded in a
// prior run's annotation, avoiding a redundant re-hash.
func (c *Cache) SetSHA256(path, sum string) {
	c.sha.Add(path, sum)
}

// LoadYAML memoizes reading and parsing a YAML document into v.
func (c *Cache) LoadYAML(path string, v any) error {
	data, ok := c.yamlC.Get(path)
	if !ok {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return err
		}
		c.yamlC.Add(path, data)
	}
	return yaml.Unmarshal(data, v)
}

// Clear discards every cached entry.
func (c *Cache) Clear() {
	c.stat.Purge()
	c.sha.Purge()
	c.yamlC.Purge()
}
