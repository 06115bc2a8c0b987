package discordbot

import "strings"

func isSnowflake(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func trimMention(arg, open string) (string, bool) {
	if strings.HasPrefix(arg, open) && strings.HasSuffix(arg, ">") {
		arg = strings.TrimSuffix(strings.TrimPrefix(arg, open), ">")
	}
	return arg, isSnowflake(arg)
}

// parseUser accepts <@id>, <@!id> or a raw ID.
func parseUser(arg string) (string, bool) {
	if strings.HasPrefix(arg, "<@!") {
		return trimMention(arg, "<@!")
	}
	if strings.HasPrefix(arg, "<@&") {
		return "", false
	}
	return trimMention(arg, "<@")
}

// parseRole accepts <@&id> or a raw ID.
func parseRole(arg string) (string, bool) {
	return trimMention(arg, "<@&")
}

// parseChannel accepts <#id> or a raw ID.
func parseChannel(arg string) (string, bool) {
	return trimMention(arg, "<#")
}
