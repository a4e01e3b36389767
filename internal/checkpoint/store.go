// Package checkpoint persists stage outputs as JSON under
//
//	<root>/<slug>/stages/<stage>.json
//
// Every write is atomic and durable (temp file, fsync, rename, dir fsync), so
// a killed process leaves either the previous checkpoint or the new one and
// never a truncated file.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"patternpress/internal/logging"
)

const (
	stagesDir = "stages"
	jsonExt   = ".json"
	rawExt    = ".raw"
)

// Store is a filesystem checkpoint store rooted at an output directory.
type Store struct {
	root     string
	filePerm os.FileMode
	dirPerm  os.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithFilePerm sets the permission bits of written files.
func WithFilePerm(perm os.FileMode) Option {
	return func(s *Store) { s.filePerm = perm }
}

// WithDirPerm sets the permission bits of created directories.
func WithDirPerm(perm os.FileMode) Option {
	return func(s *Store) { s.dirPerm = perm }
}

// NewStore creates a store rooted at root. The directory is created lazily.
func NewStore(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("checkpoint root is required")
	}
	s := &Store{root: root, filePerm: 0o644, dirPerm: 0o755}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the output directory.
func (s *Store) Root() string {
	return s.root
}

// RunDir returns <root>/<slug>.
func (s *Store) RunDir(slug string) string {
	return filepath.Join(s.root, slug)
}

// Path returns the checkpoint file path for a stage.
func (s *Store) Path(slug, stage string) string {
	return filepath.Join(s.root, slug, stagesDir, stage+jsonExt)
}

// Has reports whether a checkpoint file exists. It does not parse it.
func (s *Store) Has(slug, stage string) (bool, error) {
	if err := checkKey(slug, stage); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(slug, stage))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat checkpoint: %w", err)
}

// Read returns the checkpoint bytes. An absent checkpoint is (nil, false, nil).
// A file that is not valid JSON is a *CorruptCheckpointError, never absent.
func (s *Store) Read(slug, stage string) (json.RawMessage, bool, error) {
	if err := checkKey(slug, stage); err != nil {
		return nil, false, err
	}
	path := s.Path(slug, stage)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := validJSON(data); err != nil {
		logging.CheckpointError("Corrupt checkpoint %s: %v", path, err)
		return nil, false, &CorruptCheckpointError{Path: path, Err: err}
	}
	return json.RawMessage(data), true, nil
}

// ReadInto decodes a checkpoint into dst.
func (s *Store) ReadInto(slug, stage string, dst any) (bool, error) {
	data, ok, err := s.Read(slug, stage)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("decode checkpoint %s/%s: %w", slug, stage, err)
	}
	return true, nil
}

// Write stores v with sorted keys and two-space indentation.
func (s *Store) Write(slug, stage string, v any) error {
	_, err := s.write(slug, stage, v)
	return err
}

func (s *Store) write(slug, stage string, v any) ([]byte, error) {
	if err := checkKey(slug, stage); err != nil {
		return nil, err
	}
	data, err := MarshalStable(v)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint %s/%s: %w", slug, stage, err)
	}
	path := s.Path(slug, stage)
	if err := s.writeAtomic(path, data); err != nil {
		return nil, fmt.Errorf("write checkpoint %s/%s: %w", slug, stage, err)
	}
	logging.CheckpointDebug("Wrote %s (%d bytes)", path, len(data))
	return data, nil
}

// Producer computes a stage output when no checkpoint exists.
type Producer func(ctx context.Context) (any, error)

// RunOrLoad returns the existing checkpoint without calling produce. Otherwise
// it calls produce, persists the result and returns the persisted bytes.
// A corrupt checkpoint is returned as an error and produce is not called.
func (s *Store) RunOrLoad(ctx context.Context, slug, stage string, produce Producer) (json.RawMessage, error) {
	data, ok, err := s.Read(slug, stage)
	if err != nil {
		return nil, err
	}
	if ok {
		logging.Checkpoint("Using cached checkpoint %s/%s", slug, stage)
		return data, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := produce(ctx)
	if err != nil {
		return nil, err
	}
	written, err := s.write(slug, stage, v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(written), nil
}

// WriteRaw stores unparsed model output next to the stage checkpoints as
// <name>.raw.
func (s *Store) WriteRaw(slug, name, text string) (string, error) {
	if err := checkKey(slug, name); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, slug, stagesDir, name+rawExt)
	if err := s.writeAtomic(path, []byte(text)); err != nil {
		return "", fmt.Errorf("write raw %s/%s: %w", slug, name, err)
	}
	logging.CheckpointWarn("Saved raw response to %s", path)
	return path, nil
}

// WritePage stores an assembled page at <root>/<slug>/<rel>.
func (s *Store) WritePage(slug, rel string, v any) error {
	if err := checkKey(slug, "page"); err != nil {
		return err
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("invalid page path %q", rel)
	}
	data, err := MarshalStable(v)
	if err != nil {
		return fmt.Errorf("marshal page %s: %w", rel, err)
	}
	if err := s.writeAtomic(filepath.Join(s.root, slug, clean), data); err != nil {
		return fmt.Errorf("write page %s: %w", rel, err)
	}
	return nil
}

// Delete removes a stage checkpoint. Deleting an absent checkpoint is not an error.
func (s *Store) Delete(slug, stage string) error {
	if err := checkKey(slug, stage); err != nil {
		return err
	}
	if err := os.Remove(s.Path(slug, stage)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	logging.CheckpointDebug("Deleted %s/%s", slug, stage)
	return nil
}

// Entry describes one checkpoint file on disk.
type Entry struct {
	Stage   string
	Size    int64
	ModTime time.Time
}

// List returns the checkpoints of a run sorted by stage name.
func (s *Store) List(slug string) ([]Entry, error) {
	if err := checkKey(slug, "list"); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, slug, stagesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Stage:   strings.TrimSuffix(name, jsonExt),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

func checkKey(slug, stage string) error {
	for _, part := range []string{slug, stage} {
		if strings.TrimSpace(part) == "" {
			return errors.New("checkpoint slug and stage are required")
		}
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return fmt.Errorf("invalid checkpoint key component %q", part)
		}
	}
	return nil
}
