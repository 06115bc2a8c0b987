package guild

import (
	"slices"
	"sort"
	"time"

	"gorm.io/datatypes"
)

const (
	DefaultXPRate         = 1.0
	DefaultCooldown       = 60 * time.Second
	DefaultLevelUpMessage = "{user} has reached **Level {level}**!"
	DefaultCommandPrefix  = ","
	BoosterMultiplier     = 1.5

	MaxXPRate          = 100.0
	MaxBonusMultiplier = 100.0
	MaxCooldown        = 30 * 24 * time.Hour
)

// RewardEntry grants RoleID to members at or above Level.
type RewardEntry struct {
	Level  int    `json:"level"`
	RoleID string `json:"role_id"`
}

// BonusRule multiplies a passive grant when Expression (CEL, bool) matches the activity.
type BonusRule struct {
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	Multiplier float64 `json:"multiplier"`
}

// Policy is the per-guild configuration read by the grant gate and the reward reconciler.
type Policy struct {
	GuildID           string                           `gorm:"column:guild_id;primaryKey" json:"guild_id"`
	LevelingEnabled   bool                             `gorm:"column:leveling_enabled" json:"leveling_enabled"`
	XPRateMultiplier  float64                          `gorm:"column:xp_rate_multiplier" json:"xp_rate_multiplier"`
	Cooldown          time.Duration                    `gorm:"column:cooldown" json:"cooldown"`
	ChannelDenylist   datatypes.JSONSlice[string]      `gorm:"column:channel_denylist" json:"channel_denylist"`
	RoleDenylist      datatypes.JSONSlice[string]      `gorm:"column:role_denylist" json:"role_denylist"`
	RewardTable       datatypes.JSONSlice[RewardEntry] `gorm:"column:reward_table" json:"reward_table"`
	BonusRules        datatypes.JSONSlice[BonusRule]   `gorm:"column:bonus_rules" json:"bonus_rules"`
	AnnounceChannelID string                           `gorm:"column:announce_channel_id" json:"announce_channel_id,omitempty"`
	LevelUpMessage    string                           `gorm:"column:level_up_message" json:"level_up_message"`
	CommandPrefix     string                           `gorm:"column:command_prefix" json:"command_prefix"`
	CreatedAt         time.Time                        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time                        `gorm:"column:updated_at" json:"updated_at"`
}

func (Policy) TableName() string {
	return "guild_policies"
}

// DefaultPolicy is the policy of a guild that has never been configured.
func DefaultPolicy(guildID string) *Policy {
	return &Policy{
		GuildID:          guildID,
		LevelingEnabled:  true,
		XPRateMultiplier: DefaultXPRate,
		Cooldown:         DefaultCooldown,
		ChannelDenylist:  datatypes.JSONSlice[string]{},
		RoleDenylist:     datatypes.JSONSlice[string]{},
		RewardTable:      datatypes.JSONSlice[RewardEntry]{},
		BonusRules: datatypes.JSONSlice[BonusRule]{
			{Name: "booster", Expression: "is_booster", Multiplier: BoosterMultiplier},
		},
		LevelUpMessage: DefaultLevelUpMessage,
		CommandPrefix:  DefaultCommandPrefix,
	}
}

func (p *Policy) ChannelDenied(channelID string) bool {
	return channelID != "" && slices.Contains(p.ChannelDenylist, channelID)
}

func (p *Policy) AnyRoleDenied(roleIDs []string) bool {
	for _, r := range roleIDs {
		if slices.Contains(p.RoleDenylist, r) {
			return true
		}
	}
	return false
}

// Rewards returns the reward table sorted by level.
func (p *Policy) Rewards() []RewardEntry {
	out := slices.Clone([]RewardEntry(p.RewardTable))
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// Prefix falls back to the default when unset.
func (p *Policy) Prefix() string {
	if p.CommandPrefix == "" {
		return DefaultCommandPrefix
	}
	return p.CommandPrefix
}
