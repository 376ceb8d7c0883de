package model

// MonitorState is the lifecycle state of the repository monitor.
type MonitorState string

const (
	MonitorStateIdle         MonitorState = "idle"
	MonitorStateInitializing MonitorState = "initializing"
	MonitorStatePolling      MonitorState = "polling"
	MonitorStateSleeping     MonitorState = "sleeping"
	MonitorStateStopped      MonitorState = "stopped"
)

// PollOutcome summarises what happened to one target during a poll cycle.
type PollOutcome string

const (
	PollOutcomeAnnounced     PollOutcome = "announced"
	PollOutcomeUpToDate      PollOutcome = "up_to_date"
	PollOutcomeSeeded        PollOutcome = "seeded"
	PollOutcomeFetchFailed   PollOutcome = "fetch_failed"
	PollOutcomeChannelFailed PollOutcome = "channel_failed"
	PollOutcomeDeliverFailed PollOutcome = "deliver_failed"
	PollOutcomePanicked      PollOutcome = "panicked"
)
