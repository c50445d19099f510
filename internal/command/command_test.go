package command

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSigner struct {
	encryptCalls [][]string
}

func (s *stubSigner) Sign(msg []byte, useDigest bool) ([]byte, error) {
	return []byte("sig"), nil
}

func (s *stubSigner) Encrypt(plaintext []byte, recipients []string) ([]byte, error) {
	s.encryptCalls = append(s.encryptCalls, recipients)
	return []byte("ciphertext-blob"), nil
}

type stubResolver struct {
	aliases map[string]string
}

func (r stubResolver) ResolveAlias(alias string) (string, bool) {
	addr, ok := r.aliases[alias]
	return addr, ok
}

func TestBuildEncryptsForResolvedDestination(t *testing.T) {
	signer := &stubSigner{}
	b := &Builder{
		Identity:  signer,
		Resolver:  stubResolver{aliases: map[string]string{"peer-alias": "0xai1PEER"}},
		RootTopic: "lummetry",
		Self:      "0xai1SELF",
	}

	frame, err := b.Build(Request{
		Action:      ActionUpdatePipelineInstance,
		Payload:     map[string]any{"k": "v"},
		Destination: []string{"peer-alias"},
		SessionID:   "sess-1",
		Encrypt:     true,
	})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(frame, &wire))
	require.Equal(t, true, wire["EE_IS_ENCRYPTED"])
	require.NotEmpty(t, wire["EE_SIGN"])
	require.Len(t, signer.encryptCalls, 1)
	require.Equal(t, []string{"0xai1PEER"}, signer.encryptCalls[0])
}

func TestBuildUnresolvedAliasFails(t *testing.T) {
	b := &Builder{
		Identity:  &stubSigner{},
		Resolver:  stubResolver{aliases: map[string]string{}},
		RootTopic: "lummetry",
		Self:      "0xai1SELF",
	}
	_, err := b.Build(Request{
		Action:      ActionStop,
		Destination: []string{"unknown-alias"},
	})
	require.Error(t, err)
}

func TestBuildEncryptRequestedWithoutDestinationStillPublishable(t *testing.T) {
	b := &Builder{
		Identity:  &stubSigner{},
		RootTopic: "lummetry",
		Self:      "0xai1SELF",
	}
	frame, err := b.Build(Request{
		Action:  ActionStop,
		Encrypt: true,
	})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(frame, &wire))
	require.Equal(t, false, wire["EE_IS_ENCRYPTED"])
	require.Contains(t, wire["EE_ENCRYPTED_DATA"], "ERROR")
}
