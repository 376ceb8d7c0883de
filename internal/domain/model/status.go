package model

import "time"

// TargetStatus is the last observed poll result for one target.
type TargetStatus struct {
	Slug         string
	ChannelID    string
	Watermark    string
	Outcome      PollOutcome
	LastError    string
	Announced    int
	LastPolledAt time.Time
}
