package constants

// Command codes understood by the bikes.
const (
	// CommandCodeLock toggles the lock; the "defend" parameter selects locked (1) or unlocked (0).
	CommandCodeLock = 4
	// CommandCodeReset returns the bike to its station and idles it.
	CommandCodeReset = 99
	// ReportCodeGPS marks a periodic GPS report.
	ReportCodeGPS = 56
)

// Values of the "defend" parameter of CommandCodeLock.
const (
	DefendUnlock = 0
	DefendLock   = 1
)

// ParamDefend is the parameter key carrying the lock flag.
const ParamDefend = "defend"

// AckCodeSuccess is echoed by a device that accepted a command.
const AckCodeSuccess = 0

// AlarmRaised is the alarm flag value reported by a bike in theft mode.
const AlarmRaised = 1
