// Package oidc fetches and models the OpenID Connect well-known discovery
// document for the identity server backing CDSE authentication.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
)

// DefaultDiscoveryURL points at CDSE's CDSE realm, matching the Python
// client's default token endpoint host.
const DefaultDiscoveryURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/.well-known/openid-configuration"

// Document is the subset of the discovery document the credential manager
// relies on.
type Document struct {
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// Discover performs a one-shot fetch of the discovery document at
// discoveryURL. It does not retry internally; client is expected to be a
// retrying client (see pkg/httpclient), matching the specification's
// "Fails with DiscoveryFailed if status != 200 after retries."
func Discover(ctx context.Context, client *http.Client, discoveryURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, cdseerrors.Wrap(cdseerrors.TypeDiscoveryFailed, "building discovery request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, cdseerrors.Wrap(cdseerrors.TypeDiscoveryFailed, "fetching discovery document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, cdseerrors.Wrap(
			cdseerrors.TypeDiscoveryFailed,
			fmt.Sprintf("discovery endpoint returned status %d", resp.StatusCode),
			nil,
		)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, cdseerrors.Wrap(cdseerrors.TypeDiscoveryFailed, "decoding discovery document", err)
	}
	return &doc, nil
}
