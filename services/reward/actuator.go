package reward

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrActuatorFailure = errors.New("reward actuator failure")

// Actuator applies role deltas on the chat platform.
type Actuator interface {
	// HeldRoles returns the member's current role IDs.
	HeldRoles(ctx context.Context, guildID, userID string) ([]string, error)
	ApplyRoleDelta(ctx context.Context, guildID, userID string, delta Delta) error
}

// Announcer publishes level changes. An empty channelID is a no-op.
type Announcer interface {
	NotifyLevelChange(ctx context.Context, guildID, userID string, from, to int, channelID string) error
}

// ActuatorError reports the roles that could not be changed. XP state is unaffected.
type ActuatorError struct {
	GuildID  string
	UserID   string
	Failures map[string]error // role ID -> reason
}

func (e *ActuatorError) Error() string {
	roles := make([]string, 0, len(e.Failures))
	for role := range e.Failures {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, fmt.Sprintf("%s: %v", role, e.Failures[role]))
	}
	return fmt.Sprintf("%s: guild %s user %s: %s", ErrActuatorFailure, e.GuildID, e.UserID, strings.Join(parts, "; "))
}

func (e *ActuatorError) Is(target error) bool {
	return target == ErrActuatorFailure
}

func (e *ActuatorError) add(roleID string, err error) {
	if e.Failures == nil {
		e.Failures = make(map[string]error)
	}
	e.Failures[roleID] = err
}

func (e *ActuatorError) orNil() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}

// RenderLevelUp fills {user} with a mention and {level} with the new level.
func RenderLevelUp(template, userID string, level int) string {
	r := strings.NewReplacer(
		"{user}", "<@"+userID+">",
		"{level}", fmt.Sprint(level),
	)
	return r.Replace(template)
}
