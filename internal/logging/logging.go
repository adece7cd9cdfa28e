// Package logging provides a thin category-based wrapper around the LiveKit
// protocol logger. All logging in the agent goes through this package so log
// categories stay consistent.
package logging

import (
	"fmt"

	"github.com/livekit/protocol/logger"
)

// Category constants for consistent logging categories.
const (
	CategoryApp       = "App"
	CategoryRoom      = "Room"
	CategoryAudio     = "Audio"
	CategorySpeech    = "Speech"
	CategoryAgent     = "Agent"
	CategoryStore     = "Store"
	CategoryHighlight = "Highlight"
	CategoryMeeting   = "Meeting"
)

// Init initializes logging with the given level.
func Init(level string) {
	if level == "" {
		level = "info"
	}
	logger.InitFromConfig(&logger.Config{Level: level}, "transcriber")
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	logger.Debugw(fmt.Sprintf(msg, params...), "category", category)
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	logger.Infow(fmt.Sprintf(msg, params...), "category", category)
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	logger.Warnw(fmt.Sprintf(msg, params...), nil, "category", category)
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	logger.Errorw(fmt.Sprintf(msg, params...), nil, "category", category)
}
