package probe

// HTTP status code constants.
const (
	StatusOK = 200
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Decisions returned by /decide.
const (
	DecisionPass = "pass"
	DecisionDrop = "drop"
)
