// Package envelope implements the wire codec for messages exchanged over
// the broker's four logical channels: parsing, optional decryption,
// formatter selection and payload-path extraction.
//
// The field names below are preserved verbatim from the wire protocol for
// interoperability with the rest of the edge-node network; they are not
// renamed to Go conventions.
package envelope

// Addressing fields.
const (
	FieldID          = "EE_ID"
	FieldEthAddr     = "EE_ETH_ADDR"
	FieldSender      = "EE_SENDER"
	FieldDestination = "EE_DESTINATION"
	FieldSessionID   = "SESSION_ID"
	FieldInitiatorID = "INITIATOR_ID"
	FieldSenderAddr  = "SENDER_ADDR"
	FieldTime        = "TIME"
)

// Security fields.
const (
	FieldIsEncrypted   = "EE_IS_ENCRYPTED"
	FieldEncryptedData = "EE_ENCRYPTED_DATA"
	FieldSignature     = "EE_SIGN"
)

// Routing fields.
const (
	FieldPayloadPath = "EE_PAYLOAD_PATH"
	FieldFormatter   = "EE_FORMATTER"
)

// Heartbeat fields.
const (
	FieldHeartbeatVersion = "HEARTBEAT_VERSION"
	FieldEncodedData      = "ENCODED_DATA"
	FieldConfigStreams    = "CONFIG_STREAMS"
	FieldWhitelist        = "EE_WHITELIST"
	FieldSecured          = "SECURED"
)

// Net-monitor (netmon) body fields.
const (
	FieldCurrentNetwork     = "CURRENT_NETWORK"
	FieldNetmonAddress      = "NETMON_ADDRESS"
	FieldNetmonEEID         = "NETMON_EEID"
	FieldNetmonEthAddress   = "NETMON_ETH_ADDRESS"
	FieldNetmonStatusKey    = "NETMON_STATUS_KEY"
	FieldNetmonIsSupervisor = "NETMON_IS_SUPERVISOR"
	FieldNetmonWhitelist    = "NETMON_WHITELIST"
	FieldNetmonSecured      = "NETMON_NODE_SECURED"
	FieldNetmonNodeVersion  = "NETMON_NODE_VERSION"
	FieldNetmonLastRemoteTime = "NETMON_LAST_REMOTE_TIME"
	FieldNetmonLastSeen     = "NETMON_LAST_SEEN"
)

// Netmon status values.
const (
	NetmonStatusOnline  = "ONLINE"
	NetmonStatusOffline = "OFFLINE"
)

// Net-config body fields.
const (
	FieldNetConfigData  = "NET_CONFIG_DATA"
	FieldOperation      = "OPERATION"
	FieldDestination2   = "DESTINATION" // nested destination, inside NET_CONFIG_DATA
	FieldPipelines      = "PIPELINES"
	FieldPluginsStatus  = "PLUGINS_STATUSES"
)

// Net-config operation values.
const (
	OperationRequest = "REQUEST"
	OperationReply   = "REPLY"
)

// HeartbeatVersionV2 marks a compressed heartbeat body.
const HeartbeatVersionV2 = "v2"

// Well-known pipeline/plugin identifiers used by the admin channel.
const (
	AdminPipeline        = "admin_pipeline"
	PluginSignatureNetworkMonitor = "NET_MON_01"
	PluginSignatureNetConfigMonitor = "NET_CONFIG_MONITOR"
)
