package application

import (
	"slices"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// Delta is the result of comparing a freshly fetched page against a watermark.
type Delta struct {
	// NewCommits are the commits to announce, oldest first.
	NewCommits []model.CommitRecord
	// NewestSHA is the SHA at position 0 of the fetched page.
	NewestSHA string
	// Announce is true when NewCommits should be delivered.
	Announce bool
	// AdvanceWatermark is true when the watermark should become NewestSHA.
	AdvanceWatermark bool
	// WatermarkMissed is true when a watermark existed but was not on the
	// page, so the whole page is announced and older commits may be missed.
	WatermarkMissed bool
}

// ComputeDelta determines which commits in a newest-first page are newer than
// the watermark.
//
// Without a watermark nothing is announced and the caller seeds the watermark
// with the newest SHA. When the watermark is not on the page the entire page
// is announced; there is no pagination beyond the first page.
func ComputeDelta(commits []model.CommitRecord, watermark string, hasWatermark bool) Delta {
	if len(commits) == 0 {
		return Delta{}
	}

	newest := commits[0].SHA

	if !hasWatermark {
		return Delta{NewestSHA: newest, AdvanceWatermark: true}
	}

	var fresh []model.CommitRecord
	found := false
	for _, c := range commits {
		if c.SHA == watermark {
			found = true
			break
		}
		fresh = append(fresh, c)
	}

	if len(fresh) == 0 {
		return Delta{NewestSHA: newest}
	}

	slices.Reverse(fresh)

	return Delta{
		NewCommits:       fresh,
		NewestSHA:        newest,
		Announce:         true,
		AdvanceWatermark: true,
		WatermarkMissed:  !found,
	}
}
