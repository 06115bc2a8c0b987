package taskname

const (
	// Reward tasks
	LevelChanged = "leveling:level_changed"
)

// Queue names and their worker priority.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
