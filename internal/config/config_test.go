package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	env map[string]string
}

func (p stubProvider) Getenv(key string) (string, bool) {
	v, ok := p.env[key]
	return v, ok
}

func (stubProvider) HomeDir() (string, error) { return "/home/tester", nil }

func (stubProvider) Dotenv(path string) (map[string]string, error) {
	return map[string]string{}, nil
}

func strPtr(s string) *string { return &s }

func TestResolvePrecedenceConstructorWinsOverAll(t *testing.T) {
	provider := stubProvider{env: map[string]string{"EE_HOSTNAME": "h2"}}
	file := &FileOptions{Host: strPtr("h3")}
	explicit := Explicit{Host: strPtr("h1"), Port: intPtr(8883)}

	opts, err := Resolve(explicit, file, provider)
	require.NoError(t, err)
	require.Equal(t, "h1", opts.Host)
}

func TestResolvePrecedenceFileWinsWithoutConstructor(t *testing.T) {
	provider := stubProvider{env: map[string]string{"EE_HOSTNAME": "h2"}}
	file := &FileOptions{Host: strPtr("h3")}
	explicit := Explicit{Port: intPtr(8883)}

	opts, err := Resolve(explicit, file, provider)
	require.NoError(t, err)
	require.Equal(t, "h3", opts.Host)
}

func TestResolvePrecedenceEnvWinsWithoutConstructorOrFile(t *testing.T) {
	provider := stubProvider{env: map[string]string{"EE_HOSTNAME": "h2"}}
	explicit := Explicit{Port: intPtr(8883)}

	opts, err := Resolve(explicit, &FileOptions{}, provider)
	require.NoError(t, err)
	require.Equal(t, "h2", opts.Host)
}

func TestResolvePrecedenceDefaultWhenNothingElseSet(t *testing.T) {
	provider := stubProvider{env: map[string]string{}}
	explicit := Explicit{Port: intPtr(8883)}

	opts, err := Resolve(explicit, &FileOptions{}, provider)
	require.NoError(t, err)
	require.Equal(t, DefaultHost, opts.Host)
}

func TestResolveNewPrefixWinsOverLegacy(t *testing.T) {
	provider := stubProvider{env: map[string]string{
		"EE_HOSTNAME":   "new-host",
		"AIXP_HOSTNAME": "legacy-host",
	}}
	explicit := Explicit{Port: intPtr(8883)}

	opts, err := Resolve(explicit, &FileOptions{}, provider)
	require.NoError(t, err)
	require.Equal(t, "new-host", opts.Host)
}

func TestResolveUserAndPortAreIndependent(t *testing.T) {
	provider := stubProvider{env: map[string]string{}}
	explicit := Explicit{Port: intPtr(9999)}

	opts, err := Resolve(explicit, &FileOptions{}, provider)
	require.NoError(t, err)
	require.Equal(t, 9999, opts.Port)
	require.Equal(t, "", opts.User)
}

func intPtr(n int) *int { return &n }
