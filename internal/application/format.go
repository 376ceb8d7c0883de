package application

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// MaxChunkLen is the character budget for one delivered message chunk. It
// leaves headroom below Discord's 2000 character hard limit.
const MaxChunkLen = 1800

// maxSubjectLen caps a commit subject so a single bullet always fits in one
// Discord message.
const maxSubjectLen = 1000

// FormatAnnouncement renders commits (oldest first) as a header line plus one
// bullet per commit, packed into chunks of at most MaxChunkLen characters.
// Subjects longer than 1000 runes are cut and end in an ellipsis, so the
// rendered subject may differ from the commit's first line.
func FormatAnnouncement(target model.RepositoryTarget, commits []model.CommitRecord) []string {
	lines := make([]string, 0, len(commits)+1)
	lines = append(lines, fmt.Sprintf("New commits in **%s** on `%s`:", target.FullName(), target.Branch))

	for _, c := range commits {
		lines = append(lines, formatCommitLine(c))
	}

	return ChunkLines(lines, MaxChunkLen)
}

func formatCommitLine(c model.CommitRecord) string {
	return fmt.Sprintf("• [`%s`](%s) %s — %s", c.ShortSHA(), c.HTMLURL, truncate(c.MessageFirstLine, maxSubjectLen), c.Author())
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// ChunkLines greedily packs whole lines, joined by newlines, into chunks of at
// most budget characters. A line is never split: one longer than budget is
// placed alone in its own oversized chunk.
func ChunkLines(lines []string, budget int) []string {
	var (
		chunks  []string
		current []string
		size    int
	)

	for _, line := range lines {
		n := utf8.RuneCountInString(line)

		if len(current) > 0 && size+1+n > budget {
			chunks = append(chunks, strings.Join(current, "\n"))
			current, size = nil, 0
		}

		if len(current) > 0 {
			size++ // joining newline
		}
		current = append(current, line)
		size += n
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}

	return chunks
}
