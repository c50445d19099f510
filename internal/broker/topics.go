package broker

import "strings"

// Channel names the four logical broker channels the Session maintains.
type Channel string

const (
	ChannelConfig   Channel = "config"
	ChannelCtrl     Channel = "ctrl"
	ChannelNotif    Channel = "notif"
	ChannelPayloads Channel = "payloads"
)

// channelTemplates carries one {} placeholder for the root substitution and
// a second, preserved for downstream expansion (the entity id), matching the
// wire contract's exact substitution rule: only the first {} is replaced
// here.
var channelTemplates = map[Channel]string{
	ChannelConfig:   "{}/{}/config",
	ChannelCtrl:     "{}/{}/ctrl",
	ChannelNotif:    "{}/{}/notif",
	ChannelPayloads: "{}/{}/payloads",
}

// Topic derives the broker topic name for channel given the configured root
// topic. Only the first "{}" placeholder is substituted with root; any
// remaining placeholder is left in place for downstream expansion.
func Topic(channel Channel, root string) string {
	tmpl := channelTemplates[channel]
	return strings.Replace(tmpl, "{}", root, 1)
}
