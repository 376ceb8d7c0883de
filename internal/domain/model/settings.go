package model

import "time"

// DefaultPollInterval is the poll cadence when the config file does not set one.
const DefaultPollInterval = 300 * time.Second

// MonitorSettings is the immutable view of the configuration consumed by the
// monitor. It is built once at startup and never mutated.
type MonitorSettings struct {
	PollInterval     time.Duration
	DefaultChannelID string
	SourceAPIToken   string
	Targets          []RepositoryTarget
}

// ChannelFor returns the target's override channel, falling back to the
// default channel.
func (s MonitorSettings) ChannelFor(t RepositoryTarget) string {
	if t.ChannelID != "" {
		return t.ChannelID
	}
	return s.DefaultChannelID
}
