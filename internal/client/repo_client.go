// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/sapcc/portcullis/internal/portcullis"
)

// RepoClient can query a repository on a registry server for the current
// digest behind a tag.
type RepoClient struct {
	Host     string // either a plain hostname or a host:port like "example.org:443"
	RepoName string

	// credentials (only needed for non-public repos)
	UserName string
	Password string

	// auth state
	token string
}

// all network calls made by this package are bounded by this timeout, so that
// a hung registry cannot stall the poll loop
var httpClient = &http.Client{Timeout: 30 * time.Second}

var manifestMediaTypes = strings.Join([]string{
	"application/vnd.docker.distribution.manifest.v2+json",
	"application/vnd.docker.distribution.manifest.list.v2+json",
	"application/vnd.oci.image.manifest.v1+json",
	"application/vnd.oci.image.index.v1+json",
}, ", ")

// FetchDigest returns the digest currently stored behind the given tag. It
// issues a HEAD request for the manifest, answering a bearer-token challenge
// from the registry if one is presented.
func (c *RepoClient) FetchDigest(ctx context.Context, tag string) (digest.Digest, error) {
	uri := fmt.Sprintf("%s/v2/%s/manifests/%s", c.baseURL(), c.RepoName, tag)

	resp, err := c.doRequest(ctx, uri)
	if err != nil {
		return "", err
	}

	// the request was a HEAD, so there is no body to care about
	err = resp.Body.Close()
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("during HEAD %s: expected status 200, got %s", uri, resp.Status)
	}

	digestStr := resp.Header.Get("Docker-Content-Digest")
	if digestStr == "" {
		return "", fmt.Errorf("during HEAD %s: missing Docker-Content-Digest header", uri)
	}
	return digest.Parse(digestStr)
}

func (c *RepoClient) doRequest(ctx context.Context, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", manifestMediaTypes)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	// if it's a 401, do the auth challenge, then resend the request with the token
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		authChallenge, err := ParseAuthChallenge(resp.Header)
		if err != nil {
			return nil, fmt.Errorf("cannot parse auth challenge from 401 response to HEAD %s: %w", uri, err)
		}
		c.token, err = authChallenge.GetToken(ctx, c.UserName, c.Password)
		if err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", manifestMediaTypes)
		req.Header.Set("Authorization", "Bearer "+c.token)
		resp, err = httpClient.Do(req)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

func (c *RepoClient) baseURL() string {
	// the scheme prefix is only ever used by unit tests that talk to a
	// plain-HTTP httptest server
	if strings.Contains(c.Host, "://") {
		return c.Host
	}
	return "https://" + c.Host
}

// RepoClientPool hands out one RepoClient per repository and keeps it
// around, so that the bearer token obtained on the first fetch is reused on
// subsequent fetches instead of redoing the auth challenge every time. It is
// not safe for concurrent use; the poll loop is its only caller.
type RepoClientPool struct {
	UserName string
	Password string

	clients map[string]*RepoClient
}

// FetchDigest returns the digest currently stored behind the given reference.
func (p *RepoClientPool) FetchDigest(ctx context.Context, ref portcullis.ImageReference) (digest.Digest, error) {
	if p.clients == nil {
		p.clients = make(map[string]*RepoClient)
	}
	key := ref.Host + "/" + ref.RepoName
	c, exists := p.clients[key]
	if !exists {
		c = &RepoClient{
			Host:     ref.Host,
			RepoName: ref.RepoName,
			UserName: p.UserName,
			Password: p.Password,
		}
		p.clients[key] = c
	}
	return c.FetchDigest(ctx, ref.Tag)
}
