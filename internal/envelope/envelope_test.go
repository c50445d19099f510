package envelope

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubDecryptor struct {
	self    string
	inner   map[string]any
	wantErr bool
}

func (s *stubDecryptor) SelfAddress() string { return s.self }

func (s *stubDecryptor) Decrypt(ciphertext []byte, senderAddress string) ([]byte, error) {
	if s.wantErr {
		return nil, errTestDecrypt
	}
	return json.Marshal(s.inner)
}

var errTestDecrypt = errTestErr("decrypt failed")

type errTestErr string

func (e errTestErr) Error() string { return string(e) }

func TestDecodeEncryptedForSelfMergesInnerOverOuter(t *testing.T) {
	dec := &stubDecryptor{
		self: "self-addr",
		inner: map[string]any{
			"EE_PAYLOAD_PATH": []any{"node1", "admin_pipeline", "NET_MON_01", ""},
			"extra":           "inner-wins",
		},
	}
	codec := NewCodec(dec, nil, nil)

	outer := map[string]any{
		FieldIsEncrypted:   true,
		FieldDestination:   "self-addr",
		FieldEncryptedData: base64.StdEncoding.EncodeToString([]byte("ignored-plaintext-stub")),
		FieldSender:        "node1",
		"extra":            "outer-loses",
	}
	raw, err := json.Marshal(outer)
	require.NoError(t, err)

	env, err := codec.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, "inner-wins", env.Body["extra"])
	require.Equal(t, "node1", env.Path.NodeAlias)
	require.Equal(t, "admin_pipeline", env.Path.Pipeline)
	require.NotContains(t, env.Body, FieldEncryptedData)
}

func TestDecodeEncryptedNotForSelfKeepsOuterOnly(t *testing.T) {
	dec := &stubDecryptor{self: "someone-else"}
	codec := NewCodec(dec, nil, nil)

	outer := map[string]any{
		FieldIsEncrypted:   true,
		FieldDestination:   []any{"other-addr"},
		FieldEncryptedData: "opaque",
		FieldSender:        "node1",
	}
	raw, err := json.Marshal(outer)
	require.NoError(t, err)

	env, err := codec.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.True(t, env.Encrypted)
	require.NotContains(t, env.Body, FieldEncryptedData)
}

func TestDecodeDropsUnparsableFrame(t *testing.T) {
	codec := NewCodec(nil, nil, nil)
	env, err := codec.Decode([]byte("not json"))
	require.NoError(t, err)
	require.Nil(t, env)
}

func TestDecodeDropsOnDecryptFailure(t *testing.T) {
	dec := &stubDecryptor{self: "self-addr", wantErr: true}
	codec := NewCodec(dec, nil, nil)

	outer := map[string]any{
		FieldIsEncrypted:   true,
		FieldDestination:   "self-addr",
		FieldEncryptedData: base64.StdEncoding.EncodeToString([]byte("x")),
		FieldSender:        "node1",
	}
	raw, _ := json.Marshal(outer)

	env, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Nil(t, env)
}

func TestExtractPathDefaultsMissingElements(t *testing.T) {
	merged := map[string]any{}
	path := extractPath(merged)
	require.Equal(t, PathTuple{EmptyPathElement, EmptyPathElement, EmptyPathElement, EmptyPathElement}, path)
}

func TestDestinationListNormalizesBareString(t *testing.T) {
	require.Equal(t, []string{"a"}, destinationList("a"))
	require.Equal(t, []string{"a", "b"}, destinationList([]any{"a", "b"}))
	require.Nil(t, destinationList(nil))
}
