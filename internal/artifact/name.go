package artifact

import (
	"strings"
	"time"
	"unicode/utf8"
)

const maxBaseLen = 120

// DownloadName builds the default file name of a job artifact:
// commands joined by "+" with spaces replaced, then the UTC creation time.
func DownloadName(commands []string, accessCheck bool, created time.Time) string {
	base := "accessible"
	if !accessCheck && len(commands) > 0 {
		base = strings.ReplaceAll(strings.Join(commands, "+"), " ", "_")
	}
	base = sanitize(base)
	if len(base) > maxBaseLen {
		n := maxBaseLen
		for n > 0 && !utf8.RuneStart(base[n]) {
			n--
		}
		base = base[:n]
	}
	return base + "__" + created.UTC().Format("2006-01-02_15-04-05") + "_UTC.csv"
}

// sanitize drops characters that are unsafe in file names on common systems
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`/\:*?"<>|`, r):
			return -1
		}
		return r
	}, s)
}
