package logging

import (
	"fmt"
	"strings"
)

// Level is a message severity. Levels are not a strict hierarchy: info and
// start share a rank.
type Level string

const (
	LevelFatal   Level = "fatal"
	LevelError   Level = "error"
	LevelWarn    Level = "warn"
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelStart   Level = "start"
	LevelDebug   Level = "debug"
	LevelTrace   Level = "trace"
)

var ranks = map[Level]int{
	LevelFatal:   0,
	LevelError:   1,
	LevelWarn:    2,
	LevelSuccess: 3,
	LevelInfo:    4,
	LevelStart:   4,
	LevelDebug:   5,
	LevelTrace:   6,
}

// Levels lists every level from most to least severe.
func Levels() []Level {
	return []Level{LevelFatal, LevelError, LevelWarn, LevelSuccess, LevelInfo, LevelStart, LevelDebug, LevelTrace}
}

// ParseLevel returns the Level named by s, case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ranks[l]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Rank is the verbosity rank of l; lower is more severe. Unknown levels rank
// below fatal so they are never emitted.
func (l Level) Rank() int {
	r, ok := ranks[l]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := ranks[l]
	return ok
}

// Allows reports whether a message at msg passes a threshold of l.
func (l Level) Allows(msg Level) bool {
	return msg.Valid() && msg.Rank() <= l.Rank()
}

// String implements fmt.Stringer.
func (l Level) String() string {
	return string(l)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Type is a cosmetic category tag attached to a logger.
type Type string

const (
	TypeDefault  Type = "default"
	TypeServer   Type = "server"
	TypeClient   Type = "client"
	TypeAPI      Type = "api"
	TypeDatabase Type = "database"
	TypeAuth     Type = "auth"
	TypeSystem   Type = "system"
)

// Types lists every known type.
func Types() []Type {
	return []Type{TypeDefault, TypeServer, TypeClient, TypeAPI, TypeDatabase, TypeAuth, TypeSystem}
}

// ParseType returns the Type named by s, case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown logger type %q", s)
}
