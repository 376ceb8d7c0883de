package application_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/commitcast/internal/application"
	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// page builds a newest-first page of n commits: sha5, sha4, ... sha1.
func page(n int) []model.CommitRecord {
	commits := make([]model.CommitRecord, 0, n)
	for i := n; i >= 1; i-- {
		commits = append(commits, model.CommitRecord{
			SHA:              fmt.Sprintf("sha%d", i),
			MessageFirstLine: fmt.Sprintf("commit %d", i),
			AuthorName:       "dev",
		})
	}
	return commits
}

func shas(commits []model.CommitRecord) []string {
	out := make([]string, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.SHA)
	}
	return out
}

func TestComputeDelta_IdempotentRepoll(t *testing.T) {
	commits := page(5)

	delta := application.ComputeDelta(commits, "sha5", true)

	assert.False(t, delta.Announce)
	assert.False(t, delta.AdvanceWatermark)
	assert.Empty(t, delta.NewCommits)
}

func TestComputeDelta_NoWatermarkSeedsWithoutAnnouncing(t *testing.T) {
	commits := page(5)

	delta := application.ComputeDelta(commits, "", false)

	assert.False(t, delta.Announce)
	assert.True(t, delta.AdvanceWatermark)
	assert.Equal(t, "sha5", delta.NewestSHA)
	assert.Empty(t, delta.NewCommits)
}

func TestComputeDelta_NewCommitsOldestFirst(t *testing.T) {
	commits := page(5)

	// Watermark is the 3rd-newest commit.
	delta := application.ComputeDelta(commits, "sha3", true)

	require.True(t, delta.Announce)
	assert.True(t, delta.AdvanceWatermark)
	assert.False(t, delta.WatermarkMissed)
	assert.Equal(t, []string{"sha4", "sha5"}, shas(delta.NewCommits))
	assert.Equal(t, "sha5", delta.NewestSHA)
}

func TestComputeDelta_WatermarkOffPageAnnouncesWholePage(t *testing.T) {
	commits := page(10)

	delta := application.ComputeDelta(commits, "long-gone", true)

	require.True(t, delta.Announce)
	assert.True(t, delta.WatermarkMissed)
	assert.Len(t, delta.NewCommits, 10)
	assert.Equal(t, "sha1", delta.NewCommits[0].SHA)
	assert.Equal(t, "sha10", delta.NewCommits[9].SHA)
	assert.Equal(t, "sha10", delta.NewestSHA)
}

func TestComputeDelta_EmptyPage(t *testing.T) {
	assert.Equal(t, application.Delta{}, application.ComputeDelta(nil, "sha1", true))
	assert.Equal(t, application.Delta{}, application.ComputeDelta(nil, "", false))
}

func TestComputeDelta_DoesNotMutateInput(t *testing.T) {
	commits := page(3)

	_ = application.ComputeDelta(commits, "sha1", true)

	assert.Equal(t, []string{"sha3", "sha2", "sha1"}, shas(commits))
}
