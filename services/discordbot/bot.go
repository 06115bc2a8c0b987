package discordbot

import (
	"context"
	"errors"
	"time"

	"guild-leveling/services/guild"
	"guild-leveling/services/progression"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const handleTimeout = 10 * time.Second

// Message is the platform-neutral view of an incoming guild message.
type Message struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	AuthorBot bool
	Content   string
	RoleIDs   []string
	Booster   bool
	Timestamp time.Time
}

// AdminChecker reports whether a member may run admin-only commands in a channel.
type AdminChecker func(guildID, channelID, userID string) bool

type Bot struct {
	registry    *Registry
	guilds      *guild.Service
	progression *progression.Service
	isAdmin     AdminChecker
}

func NewBot(registry *Registry, guilds *guild.Service, progression *progression.Service, isAdmin AdminChecker) *Bot {
	return &Bot{registry: registry, guilds: guilds, progression: progression, isAdmin: isAdmin}
}

// Handle routes one message: a registered command runs and returns its reply;
// anything else is chat activity and may earn XP. Bots and DMs are ignored.
func (b *Bot) Handle(ctx context.Context, m Message) string {
	if m.AuthorBot || m.GuildID == "" {
		return ""
	}

	log := zap.L().With(
		zap.String("guild_id", m.GuildID),
		zap.String("channel_id", m.ChannelID),
		zap.String("user_id", m.AuthorID),
	)

	policy, err := b.guilds.Load(ctx, m.GuildID)
	if err != nil {
		log.Error("failed to load guild policy", zap.Error(err))
		return ""
	}

	if inv, ok := Classify(m.Content, policy.Prefix()); ok {
		if cmd, found := b.registry.Lookup(inv.Name); found {
			return b.run(ctx, log, cmd, m, inv, policy)
		}
	}

	// Passive failures never reach the member.
	_, err = b.progression.ApplyPassiveActivity(ctx, progression.ActivityEvent{
		GuildID:      m.GuildID,
		UserID:       m.AuthorID,
		ChannelID:    m.ChannelID,
		ActorRoleIDs: m.RoleIDs,
		IsBooster:    m.Booster,
		Timestamp:    m.Timestamp,
	})
	if err != nil {
		log.Warn("passive grant failed", zap.Error(err))
	}
	return ""
}

func (b *Bot) run(ctx context.Context, log *zap.Logger, cmd *Command, m Message, inv Invocation, policy *guild.Policy) string {
	log = log.With(zap.String("command", cmd.Name))

	if cmd.AdminOnly && (b.isAdmin == nil || !b.isAdmin(m.GuildID, m.ChannelID, m.AuthorID)) {
		return "This command is restricted to **Administrators**."
	}

	reply, err := cmd.Run(ctx, &Request{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.AuthorID,
		Args:      inv.Args,
		Policy:    policy,
	})
	if err != nil {
		return b.replyForError(log, cmd, policy, err)
	}
	return reply
}

func (b *Bot) replyForError(log *zap.Logger, cmd *Command, policy *guild.Policy, err error) string {
	switch {
	case errors.Is(err, ErrUsage):
		if cmd.Usage != "" {
			return "Usage: `" + policy.Prefix() + cmd.Usage + "`"
		}
		return err.Error()
	case errors.Is(err, progression.ErrInvalidAdminInput),
		errors.Is(err, guild.ErrInvalidPolicy),
		errors.Is(err, guild.ErrRewardNotFound),
		errors.Is(err, guild.ErrBonusNotFound):
		return err.Error()
	case errors.Is(err, progression.ErrConcurrentWrite), errors.Is(err, progression.ErrStoreUnavailable):
		log.Warn("command failed on store", zap.Error(err))
		return "The database is busy right now. Nothing was changed, please try again."
	default:
		log.Error("command failed", zap.Error(err))
		return "Something went wrong while running this command."
	}
}

// OnMessageCreate adapts discordgo events to Handle.
func (b *Bot) OnMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	msg := Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		AuthorBot: m.Author.Bot,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Member != nil {
		msg.RoleIDs = m.Member.Roles
		msg.Booster = m.Member.PremiumSince != nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	reply := b.Handle(ctx, msg)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSendReply(m.ChannelID, reply, m.Reference(), discordgo.WithContext(ctx)); err != nil {
		zap.L().Warn("failed to send reply", zap.String("channel_id", m.ChannelID), zap.Error(err))
	}
}

// SessionAdminChecker checks the Administrator permission through the session.
func SessionAdminChecker(s *discordgo.Session) AdminChecker {
	return func(guildID, channelID, userID string) bool {
		perms, err := s.UserChannelPermissions(userID, channelID)
		if err != nil {
			zap.L().Warn("permission lookup failed", zap.String("user_id", userID), zap.Error(err))
			return false
		}
		return perms&discordgo.PermissionAdministrator != 0
	}
}
