package risk

import (
	"fmt"
	"strings"
)

// Level is a discretized severity bucket.
type Level string

const (
	LevelInfo     Level = "Info"
	LevelLow      Level = "Low"
	LevelMedium   Level = "Medium"
	LevelHigh     Level = "High"
	LevelCritical Level = "Critical"
)

var levelOrder = []Level{LevelInfo, LevelLow, LevelMedium, LevelHigh, LevelCritical}

// LevelFor maps a score onto the fixed ladder:
// <0.2 Info, <0.4 Low, <0.6 Medium, <0.8 High, else Critical.
func LevelFor(score float64) Level {
	switch {
	case score < 0.2:
		return LevelInfo
	case score < 0.4:
		return LevelLow
	case score < 0.6:
		return LevelMedium
	case score < 0.8:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Rank returns the ordinal of the level, Info being 0.
func (l Level) Rank() int {
	for i, known := range levelOrder {
		if l == known {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is as severe as other.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	for _, l := range levelOrder {
		if strings.EqualFold(s, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// UnmarshalText allows levels to be written in any case in config files.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
