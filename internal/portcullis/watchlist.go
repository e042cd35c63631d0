// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package portcullis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// WatchlistEntry describes one image under watch.
type WatchlistEntry struct {
	// image reference in ParseImageReference syntax
	Image string `json:"image"`
	// name of the container to restart once a new digest is approved
	Container string `json:"container"`
	// optional directory holding the docker-compose.yml (and the target for
	// config artifact sync); when set, restarts go through docker-compose
	AppDir string `json:"app_dir,omitempty"`
}

// ReadWatchlist reads the list of monitored images. It is called at the start
// of every poll cycle, so edits to the file take effect without a restart. A
// missing file is not an error; it just means that nothing is being watched.
func ReadWatchlist(path string) ([]WatchlistEntry, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []WatchlistEntry
	err = json.Unmarshal(buf, &entries)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	var result []WatchlistEntry
	for _, entry := range entries {
		if entry.Image == "" || entry.Container == "" {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}
