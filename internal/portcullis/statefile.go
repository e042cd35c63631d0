// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package portcullis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// UnknownDigest is the sentinel value reported as the previous digest for
// images that do not have an approved digest on record yet.
const UnknownDigest = "unknown"

// StateFile is the durable source of truth for which digest was last approved
// for each image. It is a JSON file on disk that is read in full on each
// access; the working set is a handful of entries, so there is no point in
// caching.
type StateFile struct {
	path string
	// guards against interleaved read-modify-write cycles from concurrent
	// approval requests
	mu sync.Mutex
}

// NewStateFile creates a StateFile. The file at `path` need not exist yet; it
// will be created on the first write.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

type stateFileContents struct {
	Digests map[string]string `json:"digests"`
}

func (s *StateFile) read() (stateFileContents, error) {
	buf, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return stateFileContents{Digests: make(map[string]string)}, nil
	}
	if err != nil {
		return stateFileContents{}, err
	}

	var contents stateFileContents
	err = json.Unmarshal(buf, &contents)
	if err != nil {
		return stateFileContents{}, fmt.Errorf("cannot parse %s: %w", s.path, err)
	}
	if contents.Digests == nil {
		contents.Digests = make(map[string]string)
	}
	return contents, nil
}

// ApprovedDigests returns the full mapping of image reference to last-approved
// digest. A missing state file yields an empty map, not an error.
func (s *StateFile) ApprovedDigests() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return nil, err
	}
	return contents.Digests, nil
}

// RecordDigest durably marks `digestStr` as the approved digest for `image`.
// The write goes through a temporary file and an atomic rename, so a crash
// mid-write never leaves a truncated state file behind.
func (s *StateFile) RecordDigest(image, digestStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}
	contents.Digests[image] = digestStr

	buf, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(s.path), 0777)
	if err != nil {
		return err
	}
	tmpPath := s.path + ".new"
	err = os.WriteFile(tmpPath, append(buf, '\n'), 0666)
	if err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
