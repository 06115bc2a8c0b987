package progression

import (
	"time"

	"guild-leveling/pkg/levelcurve"
)

// UserProgress is the durable XP record of one member in one guild. Level is
// always levelcurve.LevelFor(XP) for committed rows.
type UserProgress struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	GuildID     string     `gorm:"column:guild_id;not null;uniqueIndex:idx_progress_guild_user;index:idx_progress_rank,priority:1" json:"guild_id"`
	UserID      string     `gorm:"column:user_id;not null;uniqueIndex:idx_progress_guild_user" json:"user_id"`
	XP          int64      `gorm:"column:xp;not null;index:idx_progress_rank,priority:3" json:"xp"`
	Level       int        `gorm:"column:level;not null;index:idx_progress_rank,priority:2" json:"level"`
	Version     int64      `gorm:"column:version;not null" json:"-"`
	LastGrantAt *time.Time `gorm:"column:last_grant_at" json:"last_grant_at,omitempty"`
	LastClaimAt *time.Time `gorm:"column:last_claim_at" json:"last_claim_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (UserProgress) TableName() string {
	return "user_progress"
}

// ActivityEvent is a qualifying chat action that may earn passive XP.
type ActivityEvent struct {
	GuildID      string    `json:"guild_id"`
	UserID       string    `json:"user_id"`
	ChannelID    string    `json:"channel_id"`
	ActorRoleIDs []string  `json:"actor_role_ids"`
	IsBooster    bool      `json:"is_booster"`
	Timestamp    time.Time `json:"timestamp"`
}

type CommandKind string

const (
	CommandAddXP    CommandKind = "addXp"
	CommandRemoveXP CommandKind = "removeXp"
	CommandSetLevel CommandKind = "setLevel"
	CommandReset    CommandKind = "reset"
)

// AdminCommand is an administrative adjustment. Amount applies to addXp and
// removeXp and must be positive; Level applies to setLevel.
type AdminCommand struct {
	Kind    CommandKind `json:"kind"`
	GuildID string      `json:"guild_id"`
	UserID  string      `json:"user_id"`
	Amount  int64       `json:"amount,omitempty"`
	Level   int         `json:"level,omitempty"`
}

type Cause string

const (
	CausePassive  Cause = "passive"
	CauseAdmin    Cause = "admin"
	CauseSetLevel Cause = "set_level"
	CauseReset    Cause = "reset"
	CauseDaily    Cause = "daily"
)

// LevelChanged is emitted once per committed write whose derived level differs
// from the level before the write.
type LevelChanged struct {
	EventID    string    `json:"event_id"`
	GuildID    string    `json:"guild_id"`
	UserID     string    `json:"user_id"`
	From       int       `json:"from"`
	To         int       `json:"to"`
	Cause      Cause     `json:"cause"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (c LevelChanged) Up() bool {
	return c.To > c.From
}

// Result describes one engine operation. Before equals After when nothing was written.
type Result struct {
	Before  UserProgress  `json:"before"`
	After   UserProgress  `json:"after"`
	Change  *LevelChanged `json:"change,omitempty"`
	Granted bool          `json:"granted"`
	Amount  int64         `json:"amount"`
	// DispatchErr reports a failed hand-off of Change; the XP write stands.
	DispatchErr error `json:"-"`
}

// ProgressView is a read-only snapshot with progress through the current level.
type ProgressView struct {
	UserProgress
	Progress levelcurve.Progress `json:"progress"`
}
