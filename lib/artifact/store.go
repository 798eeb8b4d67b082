// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hangar-build/hangar/lib/codec"
)

// Directory names within the store root.
const (
	objectDir   = "objects"
	manifestDir = "manifests"
	tmpDir      = "tmp"
)

// objectMagic starts every object file; the last byte is the format
// version.
var objectMagic = [4]byte{'H', 'G', 'A', 1}

// objectHeaderSize is magic, compression tag, and uncompressed size.
const objectHeaderSize = 4 + 1 + 8

// ErrNotFound is returned when an object hash is not in the store.
var ErrNotFound = errors.New("artifact not found")

// ErrNoMatch is returned by Download when no manifest entry matches.
var ErrNoMatch = errors.New("no artifacts matched")

// Entry records one uploaded file in a run manifest.
type Entry struct {
	Path        string         `cbor:"path"`
	Hash        Hash           `cbor:"hash"`
	Size        int64          `cbor:"size"`
	Mode        uint32         `cbor:"mode"`
	Compression CompressionTag `cbor:"compression"`
	StepKey     string         `cbor:"step_key,omitempty"`
}

// manifest is the on-disk form of a run's uploaded files.
type manifest struct {
	Entries map[string]Entry `cbor:"entries"`
}

// Store is a local content-addressed artifact store. Manifest updates
// are serialized within one Store; a store directory must not be
// shared by concurrent processes writing the same run.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore creates a Store rooted at root, creating its directories.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, objectDir),
		filepath.Join(root, manifestDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) objectPath(hash Hash) string {
	text := hash.String()
	return filepath.Join(s.root, objectDir, text[:2], text)
}

// Put stores content and returns its hash and codec. Existing objects
// are not rewritten.
func (s *Store) Put(content []byte, contentType string) (Hash, CompressionTag, error) {
	hash := HashContent(content)
	objectPath := s.objectPath(hash)
	if header, err := readHeader(objectPath); err == nil {
		return hash, header.compression, nil
	}

	payload, tag, err := Compress(content, contentType)
	if err != nil {
		return Hash{}, 0, err
	}

	encoded := make([]byte, objectHeaderSize+len(payload))
	copy(encoded, objectMagic[:])
	encoded[4] = byte(tag)
	binary.BigEndian.PutUint64(encoded[5:objectHeaderSize], uint64(len(content)))
	copy(encoded[objectHeaderSize:], payload)

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o755); err != nil {
		return Hash{}, 0, fmt.Errorf("creating object directory: %w", err)
	}
	temporary, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "object-*")
	if err != nil {
		return Hash{}, 0, fmt.Errorf("creating staging file: %w", err)
	}
	if _, err := temporary.Write(encoded); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return Hash{}, 0, fmt.Errorf("writing object %s: %w", hash.Short(), err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return Hash{}, 0, fmt.Errorf("closing object %s: %w", hash.Short(), err)
	}
	if err := os.Rename(temporary.Name(), objectPath); err != nil {
		os.Remove(temporary.Name())
		return Hash{}, 0, fmt.Errorf("publishing object %s: %w", hash.Short(), err)
	}
	return hash, tag, nil
}

// Get returns the uncompressed content for hash, verifying it.
func (s *Store) Get(hash Hash) ([]byte, error) {
	encoded, err := os.ReadFile(s.objectPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", hash.Short(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", hash.Short(), err)
	}
	header, err := parseHeader(encoded)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", hash.Short(), err)
	}
	content, err := Decompress(encoded[objectHeaderSize:], header.compression, int(header.size))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", hash.Short(), err)
	}
	if HashContent(content) != hash {
		return nil, fmt.Errorf("object %s: content hash mismatch", hash.Short())
	}
	return content, nil
}

// Has reports whether an object exists.
func (s *Store) Has(hash Hash) bool {
	_, err := os.Stat(s.objectPath(hash))
	return err == nil
}

// Upload stores every regular file under workspace whose relative
// path matches one of patterns and records it in the manifest for
// runID. It returns the recorded entries sorted by path; no match is
// not an error.
func (s *Store) Upload(runID, stepKey, workspace string, patterns []string) ([]Entry, error) {
	for _, pattern := range patterns {
		if err := ValidatePattern(pattern); err != nil {
			return nil, err
		}
	}

	var entries []Entry
	err := filepath.WalkDir(workspace, func(filePath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(workspace, filePath)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		if !matchAny(patterns, relative) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		hash, tag, err := s.Put(content, mime.TypeByExtension(filepath.Ext(filePath)))
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:        relative,
			Hash:        hash,
			Size:        int64(len(content)),
			Mode:        uint32(info.Mode().Perm()),
			Compression: tag,
			StepKey:     stepKey,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("uploading artifacts from %s: %w", workspace, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.readManifest(runID)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		current.Entries[entry.Path] = entry
	}
	if err := codec.WriteFile(s.manifestPath(runID), current); err != nil {
		return nil, fmt.Errorf("writing manifest for run %s: %w", runID, err)
	}
	return entries, nil
}

// Download writes every manifest entry of runID matching one of
// patterns into destination, preserving relative paths and modes.
func (s *Store) Download(runID string, patterns []string, destination string) ([]Entry, error) {
	matched, err := s.Search(runID, patterns)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoMatch)
	}
	for _, entry := range matched {
		content, err := s.Get(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", entry.Path, err)
		}
		target := filepath.Join(destination, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("downloading %s: %w", entry.Path, err)
		}
		mode := fs.FileMode(entry.Mode)
		if mode == 0 {
			mode = 0o644
		}
		if err := os.WriteFile(target, content, mode); err != nil {
			return nil, fmt.Errorf("downloading %s: %w", entry.Path, err)
		}
	}
	return matched, nil
}

// Search returns the manifest entries of runID matching one of
// patterns, sorted by path.
func (s *Store) Search(runID string, patterns []string) ([]Entry, error) {
	s.mu.Lock()
	current, err := s.readManifest(runID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var matched []Entry
	for name, entry := range current.Entries {
		if matchAny(patterns, name) {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Path < matched[j].Path })
	return matched, nil
}

func (s *Store) manifestPath(runID string) string {
	return filepath.Join(s.root, manifestDir, runID+".cbor")
}

// readManifest loads the manifest for runID; a missing manifest is
// empty. Caller holds s.mu.
func (s *Store) readManifest(runID string) (*manifest, error) {
	current := &manifest{}
	err := codec.ReadFile(s.manifestPath(runID), current)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading manifest for run %s: %w", runID, err)
	}
	if current.Entries == nil {
		current.Entries = make(map[string]Entry)
	}
	return current, nil
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if MatchPath(pattern, name) {
			return true
		}
	}
	return false
}

type objectHeader struct {
	compression CompressionTag
	size        uint64
}

func readHeader(objectPath string) (objectHeader, error) {
	file, err := os.Open(objectPath)
	if err != nil {
		return objectHeader{}, err
	}
	defer file.Close()
	buffer := make([]byte, objectHeaderSize)
	if _, err := io.ReadFull(file, buffer); err != nil {
		return objectHeader{}, err
	}
	return parseHeader(buffer)
}

func parseHeader(encoded []byte) (objectHeader, error) {
	if len(encoded) < objectHeaderSize {
		return objectHeader{}, fmt.Errorf("truncated object header (%d bytes)", len(encoded))
	}
	if [4]byte(encoded[:4]) != objectMagic {
		return objectHeader{}, fmt.Errorf("bad object magic %x", encoded[:4])
	}
	return objectHeader{
		compression: CompressionTag(encoded[4]),
		size:        binary.BigEndian.Uint64(encoded[5:objectHeaderSize]),
	}, nil
}
