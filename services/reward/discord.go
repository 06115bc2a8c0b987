package reward

import (
	"context"
	"fmt"

	"guild-leveling/services/guild"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// PolicyLoader returns the effective policy of a guild.
type PolicyLoader interface {
	Load(ctx context.Context, guildID string) (*guild.Policy, error)
}

type discordActuator struct {
	session *discordgo.Session
}

func NewDiscordActuator(session *discordgo.Session) Actuator {
	return &discordActuator{session: session}
}

func (a *discordActuator) HeldRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	return member.Roles, nil
}

// ApplyRoleDelta attempts every change and reports each failed role; one failure does not stop the rest.
func (a *discordActuator) ApplyRoleDelta(ctx context.Context, guildID, userID string, delta Delta) error {
	failed := &ActuatorError{GuildID: guildID, UserID: userID}

	if delta.Add != "" {
		if err := a.session.GuildMemberRoleAdd(guildID, userID, delta.Add, discordgo.WithContext(ctx)); err != nil {
			failed.add(delta.Add, err)
		}
	}
	for _, roleID := range delta.Remove {
		if err := a.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
			failed.add(roleID, err)
		}
	}
	return failed.orNil()
}

type discordAnnouncer struct {
	session  *discordgo.Session
	policies PolicyLoader
}

func NewDiscordAnnouncer(session *discordgo.Session, policies PolicyLoader) Announcer {
	return &discordAnnouncer{session: session, policies: policies}
}

// NotifyLevelChange posts the guild's level-up message. Level-downs are not announced.
func (a *discordAnnouncer) NotifyLevelChange(ctx context.Context, guildID, userID string, from, to int, channelID string) error {
	if channelID == "" || to <= from {
		return nil
	}

	template := guild.DefaultLevelUpMessage
	if policy, err := a.policies.Load(ctx, guildID); err == nil && policy.LevelUpMessage != "" {
		template = policy.LevelUpMessage
	}

	_, err := a.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         RenderLevelUp(template, userID, to),
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{userID}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("announce level %d for %s: %w", to, userID, err)
	}
	return nil
}

// logSink stands in for the platform when no bot token is configured.
type logSink struct{}

func (logSink) HeldRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	return nil, nil
}

func (logSink) ApplyRoleDelta(ctx context.Context, guildID, userID string, delta Delta) error {
	zap.L().Info("role delta (no platform session)",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("add", delta.Add),
		zap.Strings("remove", delta.Remove),
	)
	return nil
}

func (logSink) NotifyLevelChange(ctx context.Context, guildID, userID string, from, to int, channelID string) error {
	if channelID == "" || to <= from {
		return nil
	}
	zap.L().Info("level up (no platform session)",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Int("level", to),
		zap.String("channel_id", channelID),
	)
	return nil
}
