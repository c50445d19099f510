package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/Ratio1/ratio1-sdk/internal/errs"
)

// PathTuple is the (node_alias, pipeline, plugin_signature, plugin_instance)
// routing tuple extracted from EE_PAYLOAD_PATH. Missing elements default to
// EmptyPathElement (the empty string), so an absent element and an empty
// string read the same to callers.
type PathTuple struct {
	NodeAlias       string
	Pipeline        string
	PluginSignature string
	PluginInstance  string
}

// EmptyPathElement is substituted for any path element the broker frame
// omitted.
const EmptyPathElement = ""

// Envelope is the decoded, normalized form of an inbound frame: the result
// of Decode after parsing, optional decryption, merge and formatter
// selection.
type Envelope struct {
	SenderAddress string
	Destination   []string
	Encrypted     bool
	Path          PathTuple
	Body          map[string]any
	Signature     string
	SessionID     string
	InitiatorID   string
	Time          string
}

// Decryptor is the subset of the Identity façade the codec needs to open an
// encrypted inner body. SelfAddress identifies "self" for destination-list
// membership checks; Decrypt recovers the plaintext given the raw
// ciphertext blob and the sender's address (used to resolve the shared
// secret / scan the wrapped-key list).
type Decryptor interface {
	SelfAddress() string
	Decrypt(ciphertext []byte, senderAddress string) ([]byte, error)
}

// Formatter decodes a merged wire mapping into the keys the rest of the
// Session expects on the resulting Envelope.Body. Formatters never see the
// raw ciphertext field; it has already been stripped by Decode.
type Formatter interface {
	Decode(merged map[string]any) (map[string]any, error)
}

// FormatterFunc adapts a plain function to the Formatter interface.
type FormatterFunc func(merged map[string]any) (map[string]any, error)

// Decode implements Formatter.
func (f FormatterFunc) Decode(merged map[string]any) (map[string]any, error) {
	return f(merged)
}

// Registry is a string-keyed map of formatter name to decoder, consulted by
// Decode after parse/decrypt/merge per step 4 of the envelope codec. This is
// a closed registration map rather than dynamic plugin discovery: the
// registry owner calls Register up front and Decode looks up the
// FieldFormatter field in the merged mapping.
type Registry struct {
	formatters map[string]Formatter
}

// NewRegistry returns a Registry pre-populated with the default formatter
// under the name "default", plus "" (an absent FieldFormatter is treated as
// a request for the default formatter).
func NewRegistry() *Registry {
	r := &Registry{formatters: make(map[string]Formatter)}
	r.Register("default", FormatterFunc(passthroughFormatter))
	r.Register("", FormatterFunc(passthroughFormatter))
	return r
}

// Register adds or replaces the formatter for name.
func (r *Registry) Register(name string, f Formatter) {
	r.formatters[name] = f
}

// Lookup returns the formatter registered under name, or false if none
// matches.
func (r *Registry) Lookup(name string) (Formatter, bool) {
	f, ok := r.formatters[name]
	return f, ok
}

// passthroughFormatter is the default formatter: the merged mapping is
// already in the shape the rest of the Session expects, so it is returned
// unchanged.
func passthroughFormatter(merged map[string]any) (map[string]any, error) {
	return merged, nil
}

// Codec parses raw broker frames into Envelope values.
type Codec struct {
	Decryptor Decryptor
	Registry  *Registry
	Logger    *log.Logger
}

// NewCodec builds a Codec with a default registry and the standard logger,
// when those are not supplied explicitly.
func NewCodec(d Decryptor, r *Registry, logger *log.Logger) *Codec {
	if r == nil {
		r = NewRegistry()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Codec{Decryptor: d, Registry: r, Logger: logger}
}

// Decode implements the five-step envelope codec of the wire protocol.
// Parse failures and decrypt failures are recovered locally: Decode logs a
// diagnostic and returns a nil Envelope and nil error, matching the
// "dropped with diagnostic" disposition the rest of the Session expects —
// only unexpected programming errors return a non-nil error.
func (c *Codec) Decode(raw []byte) (*Envelope, error) {
	outer, err := parseFrame(raw)
	if err != nil {
		c.logf("ratio1-sdk[envelope]: drop: parse failure: %v", err)
		return nil, nil
	}

	merged := outer
	encrypted, _ := outer[FieldIsEncrypted].(bool)
	destination := destinationList(outer[FieldDestination])
	self := ""
	if c.Decryptor != nil {
		self = c.Decryptor.SelfAddress()
	}

	if encrypted && containsSelf(destination, self) {
		inner, err := c.decryptInner(outer)
		if err != nil {
			c.logf("ratio1-sdk[envelope]: drop: decrypt failure: %v", err)
			return nil, nil
		}
		merged = mergeOver(outer, inner)
	}
	delete(merged, FieldEncryptedData)

	formatterName, _ := merged[FieldFormatter].(string)
	formatter, ok := c.Registry.Lookup(formatterName)
	if !ok {
		c.logf("ratio1-sdk[envelope]: drop: unknown formatter %q", formatterName)
		return nil, nil
	}
	body, err := formatter.Decode(merged)
	if err != nil {
		c.logf("ratio1-sdk[envelope]: drop: formatter error: %v", err)
		return nil, nil
	}

	env := &Envelope{
		SenderAddress: stringField(merged, FieldSender),
		Destination:   destination,
		Encrypted:     encrypted,
		Path:          extractPath(merged),
		Body:          body,
		Signature:     stringField(merged, FieldSignature),
		SessionID:     stringField(merged, FieldSessionID),
		InitiatorID:   stringField(merged, FieldInitiatorID),
		Time:          stringField(merged, FieldTime),
	}
	return env, nil
}

func (c *Codec) decryptInner(outer map[string]any) (map[string]any, error) {
	ciphertextStr, _ := outer[FieldEncryptedData].(string)
	if ciphertextStr == "" {
		return nil, fmt.Errorf("%w: missing %s", errs.ErrDecrypt, FieldEncryptedData)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecrypt, err)
	}
	sender := stringField(outer, FieldSender)
	plaintext, err := c.Decryptor.Decrypt(ciphertext, sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecrypt, err)
	}
	inner, err := parseFrame(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: inner payload: %v", errs.ErrDecrypt, err)
	}
	return inner, nil
}

func (c *Codec) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

func parseFrame(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrParse, err)
	}
	return m, nil
}

// mergeOver merges inner over outer: inner keys win per §4.2 step 2.
func mergeOver(outer, inner map[string]any) map[string]any {
	merged := make(map[string]any, len(outer)+len(inner))
	for k, v := range outer {
		merged[k] = v
	}
	for k, v := range inner {
		merged[k] = v
	}
	return merged
}

// destinationList normalizes EE_DESTINATION: a bare string is treated as a
// one-element list, per §4.2 step 2.
func destinationList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}

func containsSelf(destination []string, self string) bool {
	if self == "" {
		return false
	}
	for _, d := range destination {
		if d == self {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// extractPath extracts the routing 4-tuple, defaulting any missing element
// to EmptyPathElement per §4.2 step 5.
func extractPath(merged map[string]any) PathTuple {
	raw, ok := merged[FieldPayloadPath]
	if !ok {
		return PathTuple{EmptyPathElement, EmptyPathElement, EmptyPathElement, EmptyPathElement}
	}
	elems := make([]string, 4)
	for i := range elems {
		elems[i] = EmptyPathElement
	}
	switch t := raw.(type) {
	case []any:
		for i := 0; i < len(t) && i < 4; i++ {
			if s, ok := t[i].(string); ok {
				elems[i] = s
			}
		}
	case []string:
		for i := 0; i < len(t) && i < 4; i++ {
			elems[i] = t[i]
		}
	}
	return PathTuple{
		NodeAlias:       elems[0],
		Pipeline:        elems[1],
		PluginSignature: elems[2],
		PluginInstance:  elems[3],
	}
}

// DecodeHeartbeatBody inflates a HEARTBEAT_VERSION "v2" body: ENCODED_DATA
// is base64-encoded, raw-deflate-compressed JSON, merged over the outer
// heartbeat mapping per §4.4 step 1.
func DecodeHeartbeatBody(outer map[string]any) (map[string]any, error) {
	version, _ := outer[FieldHeartbeatVersion].(string)
	if version != HeartbeatVersionV2 {
		return outer, nil
	}
	encoded, _ := outer[FieldEncodedData].(string)
	if encoded == "" {
		return outer, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: heartbeat v2 base64: %v", errs.ErrParse, err)
	}
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	inflated, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%w: heartbeat v2 inflate: %v", errs.ErrParse, err)
	}
	var inner map[string]any
	if err := json.Unmarshal(inflated, &inner); err != nil {
		return nil, fmt.Errorf("%w: heartbeat v2 json: %v", errs.ErrParse, err)
	}
	return mergeOver(outer, inner), nil
}

// FormatTimestamp renders t as ISO-8601 with microsecond precision in UTC,
// matching the TIME and NETMON_LAST_REMOTE_TIME wire fields.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}
