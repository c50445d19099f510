// Package netconfig implements the net-config request/reply protocol: the
// Session asks a newly-peered node for its pipeline configurations and
// ingests the reply into the directory.
package netconfig

import (
	"time"

	"github.com/Ratio1/ratio1-sdk/internal/command"
	"github.com/Ratio1/ratio1-sdk/internal/directory"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
)

// RequestDelay is SDK_NETCONFIG_REQUEST_DELAY: the cooldown between
// consecutive net-config requests to the same peer.
const RequestDelay = 300 * time.Second

// BuildRequest assembles the net-config request payload of §4.7: wrapped
// with the admin-pipeline / net-config-monitor path, addressed to peer.
func BuildRequest(peer string) command.Request {
	return command.Request{
		Action: command.ActionInstanceCommand,
		Payload: map[string]any{
			envelope.FieldPayloadPath: []string{"", envelope.AdminPipeline, envelope.PluginSignatureNetConfigMonitor, ""},
			envelope.FieldNetConfigData: map[string]any{
				envelope.FieldOperation: envelope.OperationRequest,
				"DESTINATION":           []string{peer},
			},
		},
		Destination: []string{peer},
		Encrypt:     true,
	}
}

// IsAdminNetConfigPath reports whether path targets the admin pipeline's
// net-config-monitor plugin, the routing test used by §4.6 step 3.
func IsAdminNetConfigPath(path envelope.PathTuple) bool {
	return path.Pipeline == envelope.AdminPipeline && path.PluginSignature == envelope.PluginSignatureNetConfigMonitor
}

// IsAdminNetMonPath reports whether path targets the admin pipeline's
// network-monitor plugin, the routing test used by §4.6 step 2.
func IsAdminNetMonPath(path envelope.PathTuple) bool {
	return path.Pipeline == envelope.AdminPipeline && path.PluginSignature == envelope.PluginSignatureNetworkMonitor
}

// Reply is the decoded shape of a NET_CONFIG_DATA body with OPERATION=REPLY.
type Reply struct {
	IsRequest      bool
	Pipelines      []directory.PipelineConfig
	PluginStatuses map[string]map[string]map[string]string
}

// ParseReply extracts the pipeline list and plugin statuses from a
// net-config reply body, per §4.6 step 3 and the PLUGINS_STATUSES
// supplement.
func ParseReply(body map[string]any) Reply {
	raw, _ := body[envelope.FieldNetConfigData].(map[string]any)
	operation, _ := raw[envelope.FieldOperation].(string)

	reply := Reply{
		IsRequest:      operation == envelope.OperationRequest,
		PluginStatuses: map[string]map[string]map[string]string{},
	}

	if pipelinesRaw, ok := raw[envelope.FieldPipelines].([]any); ok {
		for _, p := range pipelinesRaw {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			name, _ := pm["NAME"].(string)
			if name == "" {
				continue
			}
			reply.Pipelines = append(reply.Pipelines, directory.PipelineConfig{Name: name, Raw: pm})
		}
	}

	if statusesRaw, ok := raw[envelope.FieldPluginsStatus].(map[string]any); ok {
		for pipeline, sigsRaw := range statusesRaw {
			sigs, ok := sigsRaw.(map[string]any)
			if !ok {
				continue
			}
			reply.PluginStatuses[pipeline] = map[string]map[string]string{}
			for sig, instRaw := range sigs {
				instances, ok := instRaw.(map[string]any)
				if !ok {
					continue
				}
				reply.PluginStatuses[pipeline][sig] = map[string]string{}
				for inst, statusRaw := range instances {
					if status, ok := statusRaw.(string); ok {
						reply.PluginStatuses[pipeline][sig][inst] = status
					}
				}
			}
		}
	}

	return reply
}
