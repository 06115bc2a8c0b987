package discordbot

import "strings"

// Invocation is a message that looks like a command.
type Invocation struct {
	Name string
	Args []string
}

// Classify splits a prefixed message into a command name and arguments.
// Anything else is chat activity.
func Classify(content, prefix string) (Invocation, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Invocation{}, false
	}

	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Invocation{}, false
	}
	return Invocation{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// restOf joins args from index i, for free-text arguments.
func restOf(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return strings.Join(args[i:], " ")
}
