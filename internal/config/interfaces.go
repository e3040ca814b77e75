package config

import "context"

// SecretProvider resolves parameter paths to plaintext values. SSMProvider
// serves deployed environments; EnvVarProvider serves local runs and tests.
type SecretProvider interface {
	// GetParametersBatch returns a map of path to value for every path it
	// could resolve. Missing paths are simply absent from the map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
