// Package files stores uploaded media under the public root with
// content-addressed names.
package files

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"unchained/pkg/logger"
)

// Upload is a file submitted for a file or image field.
type Upload struct {
	Filename string
	Content  io.Reader
}

// Store writes uploads below a public root directory.
type Store struct {
	root string
}

func NewStore(publicRoot string) *Store {
	return &Store{root: publicRoot}
}

// Save stores up under the public URL directory dir and returns the stored
// file name. Identical content maps to the same name.
func (s *Store) Save(ctx context.Context, dir string, up Upload) (string, error) {
	if up.Content == nil {
		return "", errors.New("upload has no content")
	}
	target := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(dir, "/")))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(target, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h, err := blake2b.New256(nil)
	if err != nil {
		tmp.Close()
		return "", err
	}
	if _, err := io.Copy(io.MultiWriter(tmp, h), up.Content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}

	name := hex.EncodeToString(h.Sum(nil)[:16]) + strings.ToLower(filepath.Ext(up.Filename))
	final := filepath.Join(target, name)
	if _, err := os.Stat(final); err == nil {
		logger.Debug(ctx, "upload already stored", "dir", dir, "name", name)
		return name, nil
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	logger.Info(ctx, "upload stored", "dir", dir, "name", name)
	return name, nil
}

// Remove deletes a stored file. Missing files are ignored.
func (s *Store) Remove(dir, name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(dir, "/")), name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
