// Package fsutil provides crash-safe file replacement for IGED's state files.
package fsutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Validator inspects the bytes read back from the temp file before it is
// renamed into place.
type Validator func([]byte) error

// WriteJSON marshals v as indented JSON and replaces path atomically.
func WriteJSON(path string, v any, perm os.FileMode) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return WriteFile(path, content, perm, ValidJSON)
}

// WriteYAML marshals v as YAML and replaces path atomically.
func WriteYAML(path string, v any, perm os.FileMode) error {
	content, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return WriteFile(path, content, perm, ValidYAML)
}

// WriteFile replaces path with content: temp file in the same directory,
// fsync, read-back validation, .bak of the previous version, rename.
// A crash at any point leaves either the old or the new content at path.
func WriteFile(path string, content []byte, perm os.FileMode, validate Validator) error {
	return writeFile(path, content, perm, validate, true)
}

// ReplaceFile is WriteFile without the .bak copy, for files whose previous
// contents must not outlive a rewrite. A .bak left by an earlier WriteFile is
// removed.
func ReplaceFile(path string, content []byte, perm os.FileMode, validate Validator) error {
	if err := writeFile(path, content, perm, validate, false); err != nil {
		return err
	}
	if err := os.Remove(path + ".bak"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	return nil
}

func writeFile(path string, content []byte, perm os.FileMode, validate Validator, backup bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".iged-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if validate != nil {
		written, err := os.ReadFile(tmpName)
		if err != nil {
			return fmt.Errorf("read temp file for validation: %w", err)
		}
		if err := validate(written); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil && backup {
		if err := copyFile(path, path+".bak", perm); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return syncDir(dir)
}

func ValidJSON(content []byte) error {
	if !json.Valid(content) {
		return fmt.Errorf("invalid json")
	}
	return nil
}

func ValidYAML(content []byte) error {
	var v any
	return yaml.Unmarshal(content, &v)
}

// Quarantine moves a corrupt file into quarantineDir with a timestamp suffix
// and returns the new location.
func Quarantine(quarantineDir, path string) (string, error) {
	if err := os.MkdirAll(quarantineDir, 0o700); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(path), time.Now().Format("20060102T150405"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer func() { _ = d.Close() }()
	// Some filesystems reject fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}
