package driven

// WatermarkStore holds the last announced commit SHA per target slug.
// Entries are never evicted; the key space is the static set of targets.
type WatermarkStore interface {
	// Get returns the watermark for slug and whether one has been recorded.
	Get(slug string) (string, bool)
	Set(slug, sha string)
	// Snapshot returns a copy of every recorded watermark.
	Snapshot() map[string]string
}
