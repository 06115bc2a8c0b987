package discordbot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"guild-leveling/services/guild"
)

// Request is a parsed command invocation in a guild channel.
type Request struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Args      []string
	Policy    *guild.Policy
}

// HandlerFunc returns the plain-text reply for a command.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	AdminOnly   bool
	Run         HandlerFunc
}

// Registry routes command names and aliases to commands. It is built once at startup.
type Registry struct {
	commands []*Command
	byName   map[string]*Command
}

func NewRegistry(commands ...*Command) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Command)}
	for _, c := range commands {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c *Command) error {
	if c == nil {
		return fmt.Errorf("nil command")
	}
	if c.Run == nil || strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("command %q: name and handler are required", c.Name)
	}

	names := append([]string{c.Name}, c.Aliases...)
	for _, n := range names {
		n = strings.ToLower(n)
		if existing, ok := r.byName[n]; ok {
			return fmt.Errorf("command %q: name %q already used by %q", c.Name, n, existing.Name)
		}
	}
	for _, n := range names {
		r.byName[strings.ToLower(n)] = c
	}
	r.commands = append(r.commands, c)
	return nil
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}

// Commands returns the registered commands sorted by name.
func (r *Registry) Commands() []*Command {
	out := make([]*Command, len(r.commands))
	copy(out, r.commands)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
