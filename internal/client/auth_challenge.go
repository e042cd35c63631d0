// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// AuthChallenge contains the parsed contents of a Www-Authenticate header
// returned by a registry.
type AuthChallenge struct {
	Realm   string
	Service string
	Scope   string
}

var challengeFieldRx = regexp.MustCompile(`^(\w+)\s*=\s*"([^"]*)"\s*,?\s*`)

// ParseAuthChallenge parses the auth challenge from the response headers of an
// unauthenticated request to a registry API.
func ParseAuthChallenge(hdr http.Header) (AuthChallenge, error) {
	input := hdr.Get("Www-Authenticate")
	if input == "" {
		return AuthChallenge{}, errors.New("missing Www-Authenticate header")
	}
	if !strings.HasPrefix(input, "Bearer ") {
		parts := strings.SplitN(input, " ", 2)
		return AuthChallenge{}, fmt.Errorf("cannot handle Www-Authenticate challenge of type %q", parts[0])
	}
	input = strings.TrimSpace(strings.TrimPrefix(input, "Bearer "))

	var c AuthChallenge
	for input != "" {
		// because of the ^ anchor, a match is always a prefix of `input`
		match := challengeFieldRx.FindStringSubmatch(input)
		if match == nil {
			return AuthChallenge{}, fmt.Errorf("malformed Www-Authenticate header: %s", hdr.Get("Www-Authenticate"))
		}
		input = strings.TrimPrefix(input, match[0])

		switch match[1] {
		case "realm":
			c.Realm = match[2]
		case "service":
			c.Service = match[2]
		case "scope":
			c.Scope = match[2]
		}
	}

	if c.Realm == "" {
		return AuthChallenge{}, errors.New("missing realm in Www-Authenticate header")
	}
	if c.Service == "" {
		return AuthChallenge{}, errors.New("missing service in Www-Authenticate header")
	}
	return c, nil
}

// GetToken obtains a token that satisfies this challenge.
func (c AuthChallenge) GetToken(ctx context.Context, userName, password string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Realm, http.NoBody)
	if err != nil {
		return "", err
	}
	if userName != "" {
		req.SetBasicAuth(userName, password)
	}
	q := make(url.Values)
	q.Set("service", c.Service)
	if c.Scope != "" {
		q.Set("scope", c.Scope)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var data struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		Errors      []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	err = json.NewDecoder(resp.Body).Decode(&data)

	switch {
	case err != nil:
		return "", err
	case len(data.Errors) > 0:
		errMsg := data.Errors[0].Message
		if errMsg == "" {
			errMsg = "<no message>"
		}
		return "", fmt.Errorf("token endpoint returned error: %s: %s", data.Errors[0].Code, errMsg)
	case data.Token != "":
		return data.Token, nil
	case data.AccessToken != "":
		return data.AccessToken, nil
	default:
		return "", errors.New("token endpoint returned neither a token nor an error")
	}
}
