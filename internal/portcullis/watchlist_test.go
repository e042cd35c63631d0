// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package portcullis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sapcc/go-bits/assert"
)

func TestReadWatchlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.json")
	err := os.WriteFile(path, []byte(`[
		{"image": "ghcr.io/acme/app:latest", "container": "app", "app_dir": "/apps/app"},
		{"image": "ghcr.io/acme/other:latest", "container": "other"},
		{"image": "", "container": "incomplete"},
		{"image": "ghcr.io/acme/orphan:latest", "container": ""}
	]`), 0666)
	if err != nil {
		t.Fatal(err.Error())
	}

	entries, err := ReadWatchlist(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	// entries without an image or container are silently skipped
	assert.DeepEqual(t, "watchlist", entries, []WatchlistEntry{
		{Image: "ghcr.io/acme/app:latest", Container: "app", AppDir: "/apps/app"},
		{Image: "ghcr.io/acme/other:latest", Container: "other"},
	})
}

func TestReadWatchlistMissingFile(t *testing.T) {
	entries, err := ReadWatchlist(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "watchlist", len(entries), 0)
}

func TestReadWatchlistMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.json")
	err := os.WriteFile(path, []byte(`{"not": "a list"}`), 0666)
	if err != nil {
		t.Fatal(err.Error())
	}

	_, err = ReadWatchlist(path)
	if err == nil {
		t.Error("expected error for malformed watchlist, got none")
	}
}
