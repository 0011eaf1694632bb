package logger

import "strings"

// DiffToInfo is the number of levels that come before Info, so that Info
// lands on logr's conventional V(0).
const DiffToInfo = 1

// Level is a log severity level. Order matters: logr treats V(0) as Info
// and larger V-levels as increasingly verbose, so Level is defined the
// same way.
type Level int

// The supported severities, from least to most verbose.
const (
	LevelOff Level = iota
	LevelInfo
	LevelDebug
)

var levelLiteralMap = map[string]Level{
	"off":   LevelOff,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelDebug,
}

// ParseLevel maps an environment-variable style literal to a Level,
// defaulting to LevelOff for anything unrecognized.
func ParseLevel(s string) Level {
	for literal, level := range levelLiteralMap {
		if strings.EqualFold(literal, s) {
			return level
		}
	}
	return LevelOff
}

// Component names a subsystem whose log verbosity can be configured
// independently of the others.
type Component string

// The components this core emits logs for.
const (
	ComponentCluster    Component = "cluster"
	ComponentConnection Component = "connection"
	ComponentSession    Component = "session"
)
