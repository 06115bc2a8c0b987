package discordbot

import (
	"context"
	"strings"
	"testing"
	"time"

	"guild-leveling/pkg/config"
	"guild-leveling/services/guild"
	"guild-leveling/services/progression"
	"guild-leveling/services/ranking"
	"guild-leveling/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type lowRand struct{}

func (lowRand) IntN(n int) int { return 0 }

type botFixture struct {
	bot    *Bot
	prog   *progression.Service
	guilds *guild.Service
	admin  bool
	now    time.Time
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	db := testutil.NewTestDB(t, &progression.UserProgress{}, &guild.Policy{})

	guilds, err := guild.NewService(guild.ServiceParams{DB: db})
	require.NoError(t, err)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	bonus, err := progression.NewCELBonus()
	require.NoError(t, err)

	f := &botFixture{guilds: guilds, now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := &config.Config{}
	store := progression.NewGormStore(db, guilds, node)
	f.prog, err = progression.NewService(progression.ServiceParams{
		Store:  store,
		Gate:   progression.NewGate(bonus),
		Config: cfg,
		Node:   node,
		Rand:   lowRand{},
		Clock:  func() time.Time { return f.now },
	})
	require.NoError(t, err)

	ranks := ranking.NewService(ranking.ServiceParams{Store: store, Config: cfg})
	registry, err := BuildRegistry(NewHandlers(f.prog, ranks, guilds))
	require.NoError(t, err)

	f.bot = NewBot(registry, guilds, f.prog, func(guildID, channelID, userID string) bool { return f.admin })
	return f
}

func (f *botFixture) say(userID, content string) string {
	return f.bot.Handle(context.Background(), Message{
		GuildID:   "g1",
		ChannelID: "c1",
		AuthorID:  userID,
		Content:   content,
		Timestamp: f.now,
	})
}

func (f *botFixture) xp(t *testing.T, userID string) int64 {
	v, err := f.prog.Progress(context.Background(), "g1", userID)
	require.NoError(t, err)
	return v.XP
}

func TestChatEarnsXPOncePerCooldown(t *testing.T) {
	f := newBotFixture(t)

	require.Empty(t, f.say("1", "hello"))
	require.Equal(t, int64(15), f.xp(t, "1"))

	f.now = f.now.Add(30 * time.Second)
	f.say("1", "again")
	require.Equal(t, int64(15), f.xp(t, "1"))

	f.now = f.now.Add(31 * time.Second)
	f.say("1", "later")
	require.Equal(t, int64(30), f.xp(t, "1"))
}

func TestIgnoresBotsAndDMs(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	require.Empty(t, f.bot.Handle(ctx, Message{GuildID: "g1", ChannelID: "c1", AuthorID: "b", AuthorBot: true, Content: ",rank"}))
	require.Empty(t, f.bot.Handle(ctx, Message{ChannelID: "dm", AuthorID: "1", Content: "hi"}))
	require.Equal(t, int64(0), f.xp(t, "b"))
	require.Equal(t, int64(0), f.xp(t, "1"))
}

func TestCommandsDoNotEarnXP(t *testing.T) {
	f := newBotFixture(t)

	reply := f.say("1", ",rank")
	require.Equal(t, "<@1> has no XP yet.", reply)
	require.Equal(t, int64(0), f.xp(t, "1"))

	// unknown commands are ordinary chat
	require.Empty(t, f.say("1", ",dance"))
	require.Equal(t, int64(15), f.xp(t, "1"))

	reply = f.say("1", ",level")
	require.Contains(t, reply, "rank **#1** at **Level 0**")
}

func TestAdminCommandsRequireAdministrator(t *testing.T) {
	f := newBotFixture(t)

	require.Equal(t, "This command is restricted to **Administrators**.", f.say("1", ",addxp <@2> 300"))
	require.Equal(t, int64(0), f.xp(t, "2"))

	f.admin = true
	reply := f.say("1", ",addxp <@2> 300")
	require.Contains(t, reply, "Added **300 XP** for <@2>.")
	require.Contains(t, reply, "0 XP / Lvl 0 -> 300 XP / Lvl 2")

	reply = f.say("1", ",removexp <@2> 100")
	require.Contains(t, reply, "300 XP / Lvl 2 -> 200 XP / Lvl 1")

	require.Equal(t, "Usage: `,addxp <@user> <amount>`", f.say("1", ",addxp"))
	require.Contains(t, f.say("1", ",addxp <@2> -5"), "Usage")
	require.Contains(t, f.say("1", ",setlevel <@2> 501"), "between 0 and 500")

	require.Contains(t, f.say("1", ",setlevel <@2> 3"), "<@2> is now **Level 3**.")
	require.Equal(t, int64(475), f.xp(t, "2"))

	require.Contains(t, f.say("1", ",resetxp <@2>"), "Reset XP for <@2>.")
	require.Equal(t, int64(0), f.xp(t, "2"))
}

func TestDailyCommand(t *testing.T) {
	f := newBotFixture(t)

	require.Equal(t, "You claimed your daily bonus and received **100 XP**! You are now **Level 1**.", f.say("1", ",daily"))
	require.Equal(t, "You already claimed your daily bonus. Come back in **24h 0m**.", f.say("1", ",daily"))

	f.now = f.now.Add(23*time.Hour + 30*time.Minute)
	require.Equal(t, "You already claimed your daily bonus. Come back in **30m**.", f.say("1", ",daily"))

	f.now = f.now.Add(30 * time.Minute)
	require.Equal(t, "You claimed your daily bonus and received **100 XP**!", f.say("1", ",daily"))
	require.Equal(t, int64(200), f.xp(t, "1"))
}

func TestPolicyCommands(t *testing.T) {
	f := newBotFixture(t)
	f.admin = true

	require.Equal(t, "<#777> added to the XP blacklist.", f.say("1", ",blacklistchannel <#777>"))
	f.bot.Handle(context.Background(), Message{GuildID: "g1", ChannelID: "777", AuthorID: "2", Content: "hi", Timestamp: f.now})
	require.Equal(t, int64(0), f.xp(t, "2"))
	require.Equal(t, "<#777> removed from the XP blacklist.", f.say("1", ",blacklistchannel <#777>"))

	require.Equal(t, "<@&5> added to the XP blacklist.", f.say("1", ",blacklistrole <@&5>"))
	require.Contains(t, f.say("1", ",addreward 5 <@&9>"), "<@&9> will be granted at **Level 5**")
	require.Equal(t, "Removed the reward for **Level 5**.", f.say("1", ",removereward 5"))
	require.Equal(t, "no reward configured for level", f.say("1", ",removereward 5"))

	require.Equal(t, "Level-up announcements will be posted in <#42>.", f.say("1", ",setlevelchannel <#42>"))
	require.Equal(t, "Level-up announcements are **disabled**.", f.say("1", ",setlevelchannel off"))

	require.Equal(t, "XP rate set to **x2**.", f.say("1", ",setxprate 2"))
	require.Contains(t, f.say("1", ",setxprate 0"), "xp rate must be a positive number")
	require.Contains(t, f.say("1", ",setxprate 1e19"), "xp rate cannot exceed 100")
	require.Equal(t, "XP cooldown set to **30s**.", f.say("1", ",setcooldown 30"))
	require.Contains(t, f.say("1", ",setcooldown 10000000000"), "cooldown must be between 0 and 2592000 seconds")
	require.Contains(t, f.say("1", ",setcooldown -1"), "cooldown must be between 0 and 2592000 seconds")
	p, err := f.guilds.Load(context.Background(), "g1")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, p.Cooldown)
	require.Equal(t, "Level-up message updated.", f.say("1", ",setlevelmessage GG {user}, level {level}!"))

	require.Contains(t, f.say("1", `,bonusrule add weekend 2 channel_id == "c1"`), "Bonus rule **weekend** saved")
	require.Contains(t, f.say("1", ",bonusrule add bad 2 user_id + 1"), "invalid policy input")
	require.Equal(t, "Bonus rule **weekend** removed.", f.say("1", ",bonusrule remove weekend"))

	require.Equal(t, "Leveling is now **disabled**.", f.say("1", ",togglelevel"))
	f.say("3", "hello")
	require.Equal(t, int64(0), f.xp(t, "3"))
	require.Equal(t, "Leveling is now **enabled**.", f.say("1", ",togglelevel"))

	require.Equal(t, "Command prefix is now `!`.", f.say("1", ",setprefix !"))
	require.Contains(t, f.say("1", "!help"), "`!daily` Claim the daily XP bonus.")
	require.Empty(t, f.say("1", ",help"))
}

func TestLeaderboardCommands(t *testing.T) {
	f := newBotFixture(t)
	f.admin = true

	require.Equal(t, "The leaderboard is empty. Start chatting to earn XP!", f.say("1", ",lb"))

	f.say("1", ",addxp <@10> 500")
	f.say("1", ",addxp <@11> 900")
	f.say("1", ",addxp <@12> 100")

	reply := f.say("1", ",top")
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	require.Equal(t, "**Leaderboard** (page 1)", lines[0])
	require.Equal(t, "**#1** <@11> Level 4 (900 XP)", lines[1])
	require.Equal(t, "**#2** <@10> Level 3 (500 XP)", lines[2])
	require.Equal(t, "**#3** <@12> Level 1 (100 XP)", lines[3])

	require.Equal(t, "Page 2 is empty.", f.say("1", ",lb 2"))
	require.Contains(t, f.say("1", ",lb zero"), "Usage")
	require.Contains(t, f.say("1", ",glb"), "**#1** <@11> Level 4 (900 XP) in g1")
	require.Contains(t, f.say("10", ",rank"), "rank **#2** at **Level 3**")
}
