package rediskey

import "fmt"

// Leaderboard keys (shared by the read side and the cache warmer)
const (
	LeaderboardPrefix       = "leveling:lb"
	GuildLeaderboardPrefix  = "leveling:lb:guild"
	GlobalLeaderboardPrefix = "leveling:lb:global"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildGuildPageKey returns "leveling:lb:guild:{guildID}:{limit}:{offset}"
func BuildGuildPageKey(guildID string, limit, offset int) string {
	return NamespaceKey(GuildLeaderboardPrefix, fmt.Sprintf("%s:%d:%d", guildID, limit, offset))
}

// BuildGlobalSnapshotKey returns "leveling:lb:global:{guildLimit}"
func BuildGlobalSnapshotKey(guildLimit int) string {
	return NamespaceKey(GlobalLeaderboardPrefix, fmt.Sprint(guildLimit))
}
