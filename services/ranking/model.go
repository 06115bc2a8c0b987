package ranking

import (
	"fmt"

	"guild-leveling/services/progression"
)

var ErrNotRanked = fmt.Errorf("%w: member has no progress in this guild", progression.ErrNotFound)

const (
	DefaultGuildLimit = 200
	MaxPageSize       = 100
)

// Entry is a ranked progress record. Rank is 1-based.
type Entry struct {
	Rank    int    `json:"rank"`
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	XP      int64  `json:"xp"`
	Level   int    `json:"level"`
}

func toEntries(rows []*progression.UserProgress, firstRank int) []Entry {
	out := make([]Entry, 0, len(rows))
	for i, r := range rows {
		out = append(out, Entry{
			Rank:    firstRank + i,
			GuildID: r.GuildID,
			UserID:  r.UserID,
			XP:      r.XP,
			Level:   r.Level,
		})
	}
	return out
}

func clampPage(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
