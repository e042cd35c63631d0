// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package portcullis

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultHostName = "registry-1.docker.io"
	defaultTagName  = "latest"
)

var repoNameRx = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*$`)

// ImageReference identifies a tagged image that can be pulled from a registry.
// The watchlist only ever refers to images by tag (the whole point of the gate
// is to decide whether the digest behind the tag may be deployed), so there is
// no digest variant here.
type ImageReference struct {
	Host     string // either a plain hostname or a host:port like "example.org:443"
	RepoName string
	Tag      string
}

// String returns the most compact string representation of this reference.
func (r ImageReference) String() string {
	result := r.RepoName
	if r.Tag != defaultTagName {
		result = fmt.Sprintf("%s:%s", r.RepoName, r.Tag)
	}

	if r.Host == defaultHostName {
		// strip leading "library/" from repo name, e.g.
		// "registry-1.docker.io/library/alpine:3.9" becomes just "alpine:3.9"
		return strings.TrimPrefix(result, "library/")
	}
	return fmt.Sprintf("%s/%s", r.Host, result)
}

// ParseImageReference parses an image reference string like
// "registry.example.org/monitoring/alertmanager:latest" into an
// ImageReference struct.
func ParseImageReference(input string) (ImageReference, error) {
	// prepend hostname for default registry if input does not include a hostname or host:port
	hadNoHostName := false
	inputParts := strings.SplitN(input, "/", 2)
	if len(inputParts) == 1 || !looksLikeHostName(inputParts[0]) {
		input = fmt.Sprintf("%s/%s", defaultHostName, input)
		hadNoHostName = true
	}

	hostAndPath := strings.SplitN(input, "/", 2)
	ref := ImageReference{Host: hostAndPath[0], Tag: defaultTagName}

	repoAndTag := hostAndPath[1]
	if idx := strings.LastIndex(repoAndTag, ":"); idx >= 0 {
		ref.RepoName = repoAndTag[:idx]
		ref.Tag = repoAndTag[idx+1:]
		if ref.Tag == "" {
			return ImageReference{}, fmt.Errorf("invalid image reference: %q", input)
		}
	} else {
		ref.RepoName = repoAndTag
	}

	if !repoNameRx.MatchString(ref.RepoName) {
		return ImageReference{}, fmt.Errorf("invalid repository name: %q", ref.RepoName)
	}

	if hadNoHostName && !strings.Contains(ref.RepoName, "/") {
		// on the default registry, single-word repo names like "alpine" are
		// actually shorthands for "library/alpine" etc.
		ref.RepoName = "library/" + ref.RepoName
	}

	return ref, nil
}

func looksLikeHostName(host string) bool {
	if strings.Contains(host, ":") {
		// looks like "host:port"
		return true
	}
	return strings.Contains(host, ".") || host == "localhost"
}
