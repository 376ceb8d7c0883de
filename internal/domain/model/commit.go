package model

import "strings"

// UnknownAuthor is shown when GitHub reports no author name for a commit.
const UnknownAuthor = "Unknown"

// shortSHALen is the abbreviated SHA length used in announcements.
const shortSHALen = 7

// CommitRecord is one upstream commit as listed by the commit source.
// Pages of CommitRecords are always ordered newest-first.
type CommitRecord struct {
	SHA              string
	MessageFirstLine string
	AuthorName       string
	HTMLURL          string
}

// ShortSHA returns the 7-character abbreviation of the commit SHA.
func (c CommitRecord) ShortSHA() string {
	if len(c.SHA) <= shortSHALen {
		return c.SHA
	}
	return c.SHA[:shortSHALen]
}

// Author returns the author name, or UnknownAuthor if it is empty.
func (c CommitRecord) Author() string {
	if c.AuthorName == "" {
		return UnknownAuthor
	}
	return c.AuthorName
}

// FirstLine returns the first line of a full commit message.
func FirstLine(message string) string {
	if i := strings.IndexAny(message, "\r\n"); i >= 0 {
		return message[:i]
	}
	return message
}
