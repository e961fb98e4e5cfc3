// Package gcpopts builds Google Cloud client options from source
// properties shared by the bigquery and gcs translators.
package gcpopts

import (
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/errors"
)

// Properties are the source properties read by ClientOptions
var Properties = []string{"credentials_file", "access_token", "endpoint"}

// ClientOptions returns the client options of cfg:
//
//   - credentials_file: a service account or user credentials JSON file
//   - access_token: a pre-issued OAuth2 access token, for short-lived
//     delegated access
//   - endpoint: overrides the API endpoint; without credentials it selects
//     an unauthenticated emulator
//
// Without credentials the client falls back to application default
// credentials.
func ClientOptions(cfg *config.SourceConfig) ([]option.ClientOption, error) {
	file := cfg.Property("credentials_file", "")
	token := cfg.Property("access_token", "")
	if file != "" && token != "" {
		return nil, errors.New(errors.ErrorTypeConfig, "credentials_file and access_token are mutually exclusive").
			WithDetail("source", cfg.Name)
	}

	var opts []option.ClientOption
	switch {
	case file != "":
		opts = append(opts, option.WithCredentialsFile(file))
	case token != "":
		opts = append(opts, option.WithTokenSource(TokenSource(token)))
	}
	if endpoint := cfg.Property("endpoint", ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		if file == "" && token == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts, nil
}

// TokenSource returns a token source always yielding the bearer token
// accessToken
func TokenSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
}
