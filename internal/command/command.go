// Package command builds outbound command envelopes: addressing, optional
// encryption of the critical section, signing and publish, per the wire
// contract's command builder and outbound path.
package command

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ratio1/ratio1-sdk/internal/broker"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
	"github.com/Ratio1/ratio1-sdk/internal/errs"
)

// Action is one of the closed set of recognized command actions.
type Action string

const (
	ActionUpdateConfig               Action = "UPDATE_CONFIG"
	ActionDeleteConfig               Action = "DELETE_CONFIG"
	ActionArchiveConfig              Action = "ARCHIVE_CONFIG"
	ActionUpdatePipelineInstance     Action = "UPDATE_PIPELINE_INSTANCE"
	ActionBatchUpdatePipelineInstance Action = "BATCH_UPDATE_PIPELINE_INSTANCE"
	ActionPipelineCommand            Action = "PIPELINE_COMMAND"
	ActionInstanceCommand            Action = "INSTANCE_COMMAND"
	ActionStop                       Action = "STOP"
	ActionRestart                    Action = "RESTART"
	ActionFullHeartbeat              Action = "FULL_HEARTBEAT"
	ActionTimersOnlyHeartbeat        Action = "TIMERS_ONLY_HEARTBEAT"
	ActionReloadConfigFromDisk       Action = "RELOAD_CONFIG_FROM_DISK"
	ActionArchiveConfigAll           Action = "ARCHIVE_CONFIG_ALL"
	ActionDeleteConfigAll            Action = "DELETE_CONFIG_ALL"
)

// Signer is the subset of the Identity façade the command builder needs.
type Signer interface {
	Sign(msg []byte, useDigest bool) ([]byte, error)
	Encrypt(plaintext []byte, recipients []string) ([]byte, error)
}

// AddressResolver resolves a human alias to a node address, per the
// addressing fallback of §4.8.
type AddressResolver interface {
	ResolveAlias(alias string) (string, bool)
}

// Request describes one outbound command before it is wrapped and signed.
type Request struct {
	Action      Action
	Payload     map[string]any
	Destination []string // addresses or aliases
	SessionID   string
	InitiatorID string
	Encrypt     bool
	UseDigest   bool
}

// Builder assembles, signs and publishes outbound command envelopes.
type Builder struct {
	Identity  Signer
	Resolver  AddressResolver
	Broker    broker.Client
	RootTopic string
	Self      string
}

// errorCiphertextPrefix marks the ciphertext field when encryption was
// requested but no destination could be resolved — the message is still
// published, to aid diagnostics, per §4.8 step 2.
const errorCiphertextPrefix = "ERROR: "

// Build assembles and signs req into a wire-ready frame, but does not
// publish it — callers that need the frame for testing call Build directly;
// Send wraps Build with the publish step.
func (b *Builder) Build(req Request) ([]byte, error) {
	destinations, err := b.resolveDestinations(req.Destination)
	if err != nil {
		return nil, err
	}

	critical := map[string]any{
		"ACTION":  string(req.Action),
		"PAYLOAD": req.Payload,
	}
	criticalJSON, err := json.Marshal(critical)
	if err != nil {
		return nil, fmt.Errorf("command: marshal critical section: %w", err)
	}

	wire := map[string]any{
		envelope.FieldID:          uuid.NewString(),
		envelope.FieldSender:      b.Self,
		envelope.FieldDestination: destinations,
		envelope.FieldSessionID:   req.SessionID,
		envelope.FieldInitiatorID: req.InitiatorID,
		envelope.FieldSenderAddr:  b.Self,
		envelope.FieldTime:        envelope.FormatTimestamp(time.Now()),
	}

	if req.Encrypt && len(destinations) > 0 {
		ciphertext, err := b.Identity.Encrypt(criticalJSON, destinations)
		if err != nil {
			return nil, fmt.Errorf("command: encrypt: %w", err)
		}
		wire[envelope.FieldIsEncrypted] = true
		wire[envelope.FieldEncryptedData] = base64.StdEncoding.EncodeToString(ciphertext)
	} else if req.Encrypt {
		wire[envelope.FieldIsEncrypted] = false
		wire[envelope.FieldEncryptedData] = errorCiphertextPrefix + "no destination resolved for encryption"
	} else {
		wire[envelope.FieldIsEncrypted] = false
		for k, v := range critical {
			wire[k] = v
		}
	}

	signable, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("command: marshal wire frame: %w", err)
	}
	sig, err := b.Identity.Sign(signable, req.UseDigest)
	if err != nil {
		return nil, fmt.Errorf("command: sign: %w", err)
	}
	wire[envelope.FieldSignature] = base64.StdEncoding.EncodeToString(sig)

	out, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("command: marshal signed frame: %w", err)
	}
	return out, nil
}

// Send builds req and publishes it on the broker's command (ctrl) channel.
func (b *Builder) Send(req Request) error {
	frame, err := b.Build(req)
	if err != nil {
		return err
	}
	topic := broker.Topic(broker.ChannelCtrl, b.RootTopic)
	return b.Broker.Publish(topic, frame)
}

func (b *Builder) resolveDestinations(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		if looksLikeAddress(d) {
			out = append(out, d)
			continue
		}
		if b.Resolver != nil {
			if addr, ok := b.Resolver.ResolveAlias(d); ok {
				out = append(out, addr)
				continue
			}
		}
		return nil, fmt.Errorf("%w: alias %q", errs.ErrAddressUnresolved, d)
	}
	return out, nil
}

func looksLikeAddress(s string) bool {
	return len(s) > 0 && (s[0] == '0' || len(s) > 30)
}
