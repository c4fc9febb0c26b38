// Package volatile implements spec.md §4.6: replacing a step's output
// files with a placeholder that preserves lineage and hash so the
// bytes can be regenerated on demand, while dependency resolution keeps
// treating the placeholder as a present output.
package volatile

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/uap-go/uap/internal/engine"
)

// PlaceholderSuffix is appended to a volatilized path:
// "<path>.volatile.placeholder.yaml".
const PlaceholderSuffix = ".volatile.placeholder.yaml"

// Placeholder is the document written in place of a volatilized file's
// bytes.
type Placeholder struct {
	Size       int64     `yaml:"size"`
	SHA256     string    `yaml:"sha256"`
	ModTime    time.Time `yaml:"mtime"`
	Lineage    []string  `yaml:"lineage"`
	Downstream []string  `yaml:"downstream"`
}

// PlaceholderPath returns the placeholder path for an original output
// path.
func PlaceholderPath(originalPath string) string {
	return originalPath + PlaceholderSuffix
}

// Volatilize replaces path's bytes with a placeholder capturing its
// size, hash, mtime, and the lineage/downstream task ids that depend on
// it. The original file is removed after the placeholder is durably
// written.
func Volatilize(path string, info *engine.PathInfo, lineage, downstream []string) error {
	if info.SHA256 == "" {
		return fmt.Errorf("%w: cannot volatilize %s: no recorded hash", engine.ErrIntegrity, path)
	}
	ph := Placeholder{
		Size:       info.Size,
		SHA256:     info.SHA256,
		ModTime:    info.ModTime,
		Lineage:    lineage,
		Downstream: downstream,
	}
	data, err := yaml.Marshal(ph)
	if err != nil {
		return fmt.Errorf("%w: marshaling placeholder for %s: %v", engine.ErrIntegrity, path, err)
	}
	placeholderPath := PlaceholderPath(path)
	if err := os.WriteFile(placeholderPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing placeholder for %s: %v", engine.ErrIntegrity, path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing volatilized %s: %v", engine.ErrIntegrity, path, err)
	}
	return nil
}

// IsVolatilized reports whether path has been replaced by a placeholder.
func IsVolatilized(path string) bool {
	_, err := os.Stat(PlaceholderPath(path))
	return err == nil
}

// Read loads the placeholder standing in for path.
func Read(path string) (Placeholder, error) {
	var ph Placeholder
	data, err := os.ReadFile(PlaceholderPath(path))
	if err != nil {
		return ph, fmt.Errorf("%w: reading placeholder for %s: %v", engine.ErrIntegrity, path, err)
	}
	if err := yaml.Unmarshal(data, &ph); err != nil {
		return ph, fmt.Errorf("%w: parsing placeholder for %s: %v", engine.ErrIntegrity, path, err)
	}
	return ph, nil
}

// Present reports whether path should be treated as present for
// dependency resolution: either the real file exists, or a placeholder
// stands in for it (spec.md §4.6 "treats a placeholder as equivalent to
// a present output for dependency resolution").
func Present(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	return IsVolatilized(path)
}

// RequiresRegeneration reports whether path must be regenerated before
// its bytes can be read: it is volatilized and the real file is absent
// (spec.md §4.6 "treats it as absent when the downstream run asks for
// bytes").
func RequiresRegeneration(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return false
	}
	return IsVolatilized(path)
}

// VerifyRegenerated checks a freshly-regenerated file's hash against
// the placeholder it is replacing, then removes the placeholder
// (spec.md §4.6 "must regenerate the original file bytes, verified
// against the placeholder's hash").
func VerifyRegenerated(path, actualSHA256 string) error {
	ph, err := Read(path)
	if err != nil {
		return err
	}
	if ph.SHA256 != actualSHA256 {
		return fmt.Errorf("%w: regenerated %s hash %s does not match placeholder hash %s", engine.ErrIntegrity, path, actualSHA256, ph.SHA256)
	}
	return os.Remove(PlaceholderPath(path))
}
