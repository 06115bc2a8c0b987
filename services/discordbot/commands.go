package discordbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guild-leveling/services/guild"
	"guild-leveling/services/progression"
	"guild-leveling/services/ranking"
)

const pageSize = 10

var ErrUsage = errors.New("usage")

func usage(c string) error {
	return fmt.Errorf("%w: %s", ErrUsage, c)
}

// Handlers implements the chat commands on top of the engine and policy services.
type Handlers struct {
	progression *progression.Service
	ranking     *ranking.Service
	guilds      *guild.Service
	registry    *Registry
}

func NewHandlers(p *progression.Service, r *ranking.Service, g *guild.Service) *Handlers {
	return &Handlers{progression: p, ranking: r, guilds: g}
}

// BuildRegistry registers every command of h.
func BuildRegistry(h *Handlers) (*Registry, error) {
	r, err := NewRegistry(h.Commands()...)
	if err != nil {
		return nil, err
	}
	h.registry = r
	return r, nil
}

func (h *Handlers) Commands() []*Command {
	return []*Command{
		{Name: "help", Aliases: []string{"commands"}, Description: "List commands.", Run: h.help},
		{Name: "rank", Aliases: []string{"level", "lvl", "progress"}, Usage: "rank [@user]", Description: "Show level, XP and server rank.", Run: h.rank},
		{Name: "leaderboard", Aliases: []string{"lb", "top", "levels"}, Usage: "leaderboard [page]", Description: "Top members of this server.", Run: h.leaderboard},
		{Name: "global-leaderboard", Aliases: []string{"glb"}, Usage: "global-leaderboard [page]", Description: "Top members across all servers.", Run: h.globalLeaderboard},
		{Name: "daily", Description: "Claim the daily XP bonus.", Run: h.daily},

		{Name: "addxp", Usage: "addxp <@user> <amount>", Description: "Add XP to a member.", AdminOnly: true, Run: h.adjust(progression.CommandAddXP)},
		{Name: "removexp", Usage: "removexp <@user> <amount>", Description: "Remove XP from a member.", AdminOnly: true, Run: h.adjust(progression.CommandRemoveXP)},
		{Name: "setlevel", Usage: "setlevel <@user> <level>", Description: "Set a member's level.", AdminOnly: true, Run: h.setLevel},
		{Name: "resetxp", Usage: "resetxp <@user>", Description: "Reset a member's XP.", AdminOnly: true, Run: h.resetXP},
		{Name: "addreward", Usage: "addreward <level> <@role>", Description: "Grant a role at a level.", AdminOnly: true, Run: h.addReward},
		{Name: "removereward", Usage: "removereward <level>", Description: "Remove the role reward of a level.", AdminOnly: true, Run: h.removeReward},
		{Name: "togglelevel", Description: "Turn XP gain on or off.", AdminOnly: true, Run: h.toggleLevel},
		{Name: "blacklistchannel", Usage: "blacklistchannel <#channel>", Description: "Toggle XP gain in a channel.", AdminOnly: true, Run: h.blacklistChannel},
		{Name: "blacklistrole", Usage: "blacklistrole <@role>", Description: "Toggle XP gain for a role.", AdminOnly: true, Run: h.blacklistRole},
		{Name: "setlevelchannel", Usage: "setlevelchannel <#channel|off>", Description: "Set the level-up announcement channel.", AdminOnly: true, Run: h.setLevelChannel},
		{Name: "setxprate", Usage: "setxprate <multiplier>", Description: "Scale passive XP.", AdminOnly: true, Run: h.setXPRate},
		{Name: "setcooldown", Usage: "setcooldown <seconds>", Description: "Minimum time between passive grants.", AdminOnly: true, Run: h.setCooldown},
		{Name: "setlevelmessage", Usage: "setlevelmessage <text with {user} and {level}>", Description: "Level-up message template.", AdminOnly: true, Run: h.setLevelMessage},
		{Name: "setprefix", Usage: "setprefix <prefix>", Description: "Change the command prefix.", AdminOnly: true, Run: h.setPrefix},
		{Name: "bonusrule", Usage: "bonusrule add <name> <multiplier> <expression> | bonusrule remove <name>", Description: "Manage XP bonus rules.", AdminOnly: true, Run: h.bonusRule},
	}
}

func (h *Handlers) help(ctx context.Context, req *Request) (string, error) {
	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, c := range h.registry.Commands() {
		line := c.Name
		if c.Usage != "" {
			line = c.Usage
		}
		fmt.Fprintf(&b, "`%s%s` %s", req.Policy.Prefix(), line, c.Description)
		if c.AdminOnly {
			b.WriteString(" (admin)")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (h *Handlers) rank(ctx context.Context, req *Request) (string, error) {
	userID := req.AuthorID
	if len(req.Args) > 0 {
		id, ok := parseUser(req.Args[0])
		if !ok {
			return "", usage("rank [@user]")
		}
		userID = id
	}

	entry, err := h.ranking.RankOf(ctx, req.GuildID, userID)
	if errors.Is(err, ranking.ErrNotRanked) {
		return fmt.Sprintf("<@%s> has no XP yet.", userID), nil
	}
	if err != nil {
		return "", err
	}

	view, err := h.progression.Progress(ctx, req.GuildID, userID)
	if err != nil {
		return "", err
	}

	p := view.Progress
	return fmt.Sprintf("<@%s> is rank **#%d** at **Level %d** (%d / %d XP to the next level, %d%%, %d XP total)",
		userID, entry.Rank, p.Level, p.EarnedInLevel, p.NeededForLevel, p.Percent, view.XP), nil
}

func pageArg(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	page, err := strconv.Atoi(args[0])
	if err != nil || page < 1 {
		return 0, errors.New("page must be a positive number")
	}
	return page, nil
}

func formatEntries(entries []ranking.Entry, global bool) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "**#%d** <@%s> Level %d (%d XP)", e.Rank, e.UserID, e.Level, e.XP)
		if global {
			fmt.Fprintf(&b, " in %s", e.GuildID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (h *Handlers) leaderboard(ctx context.Context, req *Request) (string, error) {
	page, err := pageArg(req.Args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUsage, err)
	}

	entries, err := h.ranking.TopN(ctx, req.GuildID, pageSize, (page-1)*pageSize)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		if page == 1 {
			return "The leaderboard is empty. Start chatting to earn XP!", nil
		}
		return fmt.Sprintf("Page %d is empty.", page), nil
	}
	return fmt.Sprintf("**Leaderboard** (page %d)\n%s", page, formatEntries(entries, false)), nil
}

func (h *Handlers) globalLeaderboard(ctx context.Context, req *Request) (string, error) {
	page, err := pageArg(req.Args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUsage, err)
	}

	entries, err := h.ranking.TopNGlobal(ctx, pageSize, (page-1)*pageSize, 0)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "The global ranking is empty.", nil
	}
	return fmt.Sprintf("**Global leaderboard** (page %d)\n%s", page, formatEntries(entries, true)), nil
}

func (h *Handlers) daily(ctx context.Context, req *Request) (string, error) {
	res, err := h.progression.ClaimDaily(ctx, req.GuildID, req.AuthorID)
	var cd *progression.ClaimCooldownError
	switch {
	case errors.As(err, &cd):
		return fmt.Sprintf("You already claimed your daily bonus. Come back in **%s**.", formatWait(cd.Remaining)), nil
	case errors.Is(err, progression.ErrGrantRejected):
		return "Leveling is disabled in this server.", nil
	case err != nil:
		return "", err
	}

	reply := fmt.Sprintf("You claimed your daily bonus and received **%d XP**!", res.Amount)
	if res.Change != nil && res.Change.Up() {
		reply += fmt.Sprintf(" You are now **Level %d**.", res.Change.To)
	}
	return reply, nil
}

func formatWait(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", max(m, 1))
}

func describe(res *progression.Result) string {
	s := fmt.Sprintf("%d XP / Lvl %d -> %d XP / Lvl %d", res.Before.XP, res.Before.Level, res.After.XP, res.After.Level)
	if res.DispatchErr != nil {
		s += "\nXP saved, but reward roles could not be updated. Check the bot's role position."
	}
	return s
}

func (h *Handlers) adjust(kind progression.CommandKind) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		verb := map[progression.CommandKind]string{progression.CommandAddXP: "addxp", progression.CommandRemoveXP: "removexp"}[kind]
		if len(req.Args) < 2 {
			return "", usage(verb + " <@user> <amount>")
		}
		userID, ok := parseUser(req.Args[0])
		if !ok {
			return "", usage(verb + " <@user> <amount>")
		}
		amount, err := strconv.ParseInt(req.Args[1], 10, 64)
		if err != nil || amount <= 0 {
			return "", fmt.Errorf("%w: amount must be a positive whole number", ErrUsage)
		}

		res, err := h.progression.Apply(ctx, progression.AdminCommand{Kind: kind, GuildID: req.GuildID, UserID: userID, Amount: amount})
		if err != nil {
			return "", err
		}
		action := "Added"
		if kind == progression.CommandRemoveXP {
			action = "Removed"
		}
		return fmt.Sprintf("%s **%d XP** for <@%s>.\n%s", action, amount, userID, describe(res)), nil
	}
}

func (h *Handlers) setLevel(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 2 {
		return "", usage("setlevel <@user> <level>")
	}
	userID, ok := parseUser(req.Args[0])
	if !ok {
		return "", usage("setlevel <@user> <level>")
	}
	level, err := strconv.Atoi(req.Args[1])
	if err != nil {
		return "", fmt.Errorf("%w: level must be a whole number", ErrUsage)
	}

	res, err := h.progression.Apply(ctx, progression.AdminCommand{Kind: progression.CommandSetLevel, GuildID: req.GuildID, UserID: userID, Level: level})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<@%s> is now **Level %d**.\n%s", userID, res.After.Level, describe(res)), nil
}

func (h *Handlers) resetXP(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("resetxp <@user>")
	}
	userID, ok := parseUser(req.Args[0])
	if !ok {
		return "", usage("resetxp <@user>")
	}

	res, err := h.progression.Apply(ctx, progression.AdminCommand{Kind: progression.CommandReset, GuildID: req.GuildID, UserID: userID})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reset XP for <@%s>.\n%s", userID, describe(res)), nil
}

func (h *Handlers) addReward(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 2 {
		return "", usage("addreward <level> <@role>")
	}
	level, err := strconv.Atoi(req.Args[0])
	if err != nil || level <= 0 {
		return "", fmt.Errorf("%w: level must be a positive whole number", ErrUsage)
	}
	roleID, ok := parseRole(req.Args[1])
	if !ok {
		return "", usage("addreward <level> <@role>")
	}

	if _, err := h.guilds.AddReward(ctx, req.GuildID, level, roleID); err != nil {
		return "", err
	}
	return fmt.Sprintf("<@&%s> will be granted at **Level %d**. Members update on their next level change.", roleID, level), nil
}

func (h *Handlers) removeReward(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("removereward <level>")
	}
	level, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return "", fmt.Errorf("%w: level must be a whole number", ErrUsage)
	}

	if _, err := h.guilds.RemoveReward(ctx, req.GuildID, level); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed the reward for **Level %d**.", level), nil
}

func (h *Handlers) toggleLevel(ctx context.Context, req *Request) (string, error) {
	p, err := h.guilds.ToggleLeveling(ctx, req.GuildID)
	if err != nil {
		return "", err
	}
	if p.LevelingEnabled {
		return "Leveling is now **enabled**.", nil
	}
	return "Leveling is now **disabled**.", nil
}

func (h *Handlers) blacklistChannel(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("blacklistchannel <#channel>")
	}
	channelID, ok := parseChannel(req.Args[0])
	if !ok {
		return "", usage("blacklistchannel <#channel>")
	}

	_, denied, err := h.guilds.ToggleChannelDenylist(ctx, req.GuildID, channelID)
	if err != nil {
		return "", err
	}
	if denied {
		return fmt.Sprintf("<#%s> added to the XP blacklist.", channelID), nil
	}
	return fmt.Sprintf("<#%s> removed from the XP blacklist.", channelID), nil
}

func (h *Handlers) blacklistRole(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("blacklistrole <@role>")
	}
	roleID, ok := parseRole(req.Args[0])
	if !ok {
		return "", usage("blacklistrole <@role>")
	}

	_, denied, err := h.guilds.ToggleRoleDenylist(ctx, req.GuildID, roleID)
	if err != nil {
		return "", err
	}
	if denied {
		return fmt.Sprintf("<@&%s> added to the XP blacklist.", roleID), nil
	}
	return fmt.Sprintf("<@&%s> removed from the XP blacklist.", roleID), nil
}

func (h *Handlers) setLevelChannel(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("setlevelchannel <#channel|off>")
	}
	if strings.EqualFold(req.Args[0], "off") {
		if _, err := h.guilds.SetAnnounceChannel(ctx, req.GuildID, ""); err != nil {
			return "", err
		}
		return "Level-up announcements are **disabled**.", nil
	}

	channelID, ok := parseChannel(req.Args[0])
	if !ok {
		return "", usage("setlevelchannel <#channel|off>")
	}
	if _, err := h.guilds.SetAnnounceChannel(ctx, req.GuildID, channelID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Level-up announcements will be posted in <#%s>.", channelID), nil
}

func (h *Handlers) setXPRate(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("setxprate <multiplier>")
	}
	rate, err := strconv.ParseFloat(req.Args[0], 64)
	if err != nil {
		return "", fmt.Errorf("%w: multiplier must be a number", ErrUsage)
	}
	p, err := h.guilds.SetXPRate(ctx, req.GuildID, rate)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("XP rate set to **x%g**.", p.XPRateMultiplier), nil
}

func (h *Handlers) setCooldown(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("setcooldown <seconds>")
	}
	secs, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: seconds must be a whole number", ErrUsage)
	}
	if limit := int64(guild.MaxCooldown / time.Second); secs < 0 || secs > limit {
		return "", fmt.Errorf("%w: cooldown must be between 0 and %d seconds", guild.ErrInvalidPolicy, limit)
	}
	p, err := h.guilds.SetCooldown(ctx, req.GuildID, time.Duration(secs)*time.Second)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("XP cooldown set to **%s**.", p.Cooldown), nil
}

func (h *Handlers) setLevelMessage(ctx context.Context, req *Request) (string, error) {
	msg := restOf(req.Args, 0)
	if msg == "" {
		return "", usage("setlevelmessage <text with {user} and {level}>")
	}
	if _, err := h.guilds.SetLevelUpMessage(ctx, req.GuildID, msg); err != nil {
		return "", err
	}
	return "Level-up message updated.", nil
}

func (h *Handlers) setPrefix(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 1 {
		return "", usage("setprefix <prefix>")
	}
	p, err := h.guilds.SetCommandPrefix(ctx, req.GuildID, req.Args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Command prefix is now `%s`.", p.Prefix()), nil
}

func (h *Handlers) bonusRule(ctx context.Context, req *Request) (string, error) {
	const u = "bonusrule add <name> <multiplier> <expression> | bonusrule remove <name>"
	if len(req.Args) < 2 {
		return "", usage(u)
	}

	switch strings.ToLower(req.Args[0]) {
	case "add":
		if len(req.Args) < 4 {
			return "", usage(u)
		}
		mult, err := strconv.ParseFloat(req.Args[2], 64)
		if err != nil {
			return "", fmt.Errorf("%w: multiplier must be a number", ErrUsage)
		}
		rule := guild.BonusRule{Name: req.Args[1], Multiplier: mult, Expression: restOf(req.Args, 3)}
		if _, err := h.guilds.PutBonusRule(ctx, req.GuildID, rule); err != nil {
			return "", err
		}
		return fmt.Sprintf("Bonus rule **%s** saved (x%g when `%s`).", rule.Name, rule.Multiplier, rule.Expression), nil
	case "remove":
		if _, err := h.guilds.RemoveBonusRule(ctx, req.GuildID, req.Args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("Bonus rule **%s** removed.", req.Args[1]), nil
	default:
		return "", usage(u)
	}
}
