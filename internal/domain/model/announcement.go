package model

import "time"

// Announcement records a single commit delivered to a chat channel.
type Announcement struct {
	ID          int64
	Slug        string
	ChannelID   string
	SHA         string
	Message     string
	Author      string
	URL         string
	AnnouncedAt time.Time
}

// Channel is a resolved chat destination.
type Channel struct {
	ID   string
	Name string
}
