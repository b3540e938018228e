// Package minerlog provides the structured logger every component codes
// against. The interface shape is kept deliberately small and familiar —
// Printf/Errorf/EmojiPrintf/Debugf/DebugEnabled — so call sites read the
// same whether the component is the websocket pool, the gql client, or the
// controller, but the backing implementation is zerolog instead of a
// hand-rolled log.Logger + emoji map.
package minerlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the seam every internal package depends on.
type Logger interface {
	Printf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	EmojiPrintf(emoji, format string, args ...interface{})
	Debugf(format string, args ...interface{})
	DebugEnabled() bool
}

// Settings controls the logger's verbosity and emoji decoration. Unlike the
// teacher's LoggerSettings, there's no betting/community-goal related flag
// here, and saving to disk is a separate opt-in (see NewFile) rather than a
// settings field, since where to send logs is a deployment concern.
type Settings struct {
	Debug       bool
	Emoji       bool
	ShowSeconds bool
}

type zlogger struct {
	z        zerolog.Logger
	settings Settings
}

func build(w io.Writer, settings Settings) Logger {
	level := zerolog.InfoLevel
	if settings.Debug {
		level = zerolog.DebugLevel
	}
	timeFormat := "15:04 02/01/06"
	if settings.ShowSeconds {
		timeFormat = "15:04:05 02/01/06"
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat, NoColor: false}
	z := zerolog.New(console).With().Timestamp().Logger().Level(level)
	return &zlogger{z: z, settings: settings}
}

// New builds a Logger writing to w (os.Stdout in the common case).
func New(w io.Writer, settings Settings) Logger {
	return build(w, settings)
}

// NewFile builds a Logger writing to both stdout and a per-account log file
// under logDir, mirroring the teacher's save-to-disk behavior. Falls back to
// stdout-only if the directory or file can't be created.
func NewFile(logDir, account string, settings Settings) Logger {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return build(os.Stdout, settings)
	}
	name := sanitizeFilename(strings.TrimSpace(account))
	if name == "" {
		name = "miner"
	}
	path := filepath.Join(logDir, fmt.Sprintf("%s.log", name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return build(os.Stdout, settings)
	}
	return build(io.MultiWriter(os.Stdout, f), settings)
}

// NewDiscard builds a Logger that drops everything, for tests.
func NewDiscard() Logger {
	return &zlogger{z: zerolog.New(io.Discard), settings: Settings{}}
}

func (l *zlogger) decorate(emoji, format string) string {
	if emoji != "" && l.settings.Emoji {
		return emojize(emoji) + " " + format
	}
	return format
}

func (l *zlogger) Printf(format string, args ...interface{}) {
	l.z.Info().Msgf(format, args...)
}

func (l *zlogger) Errorf(format string, args ...interface{}) {
	l.z.Error().Msgf(format, args...)
}

func (l *zlogger) EmojiPrintf(emoji, format string, args ...interface{}) {
	l.z.Info().Msgf(l.decorate(emoji, format), args...)
}

func (l *zlogger) Debugf(format string, args ...interface{}) {
	l.z.Debug().Msgf(format, args...)
}

func (l *zlogger) DebugEnabled() bool {
	return l.settings.Debug
}

var emojiMap = map[string]string{
	":rocket:":                 "\U0001F680",
	":moneybag:":               "\U0001F4B0",
	":green_circle:":           "\U0001F7E2",
	":white_check_mark:":       "✅",
	":package:":                "\U0001F4E6",
	":hourglass:":              "⌛",
	":hourglass_flowing_sand:": "⏳",
	":speech_balloon:":         "\U0001F4AC",
	":partying_face:":          "\U0001F973",
	":sleeping:":               "\U0001F634",
	":stop_sign:":              "\U0001F6D1",
	":page_facing_up:":         "\U0001F4C4",
	":gift:":                   "\U0001F381",
	":clipboard:":              "\U0001F4CB",
	":performing_arts:":        "\U0001F3AD",
	":cry:":                    "\U0001F622",
	":disappointed_relieved:":  "\U0001F625",
}

func emojize(code string) string {
	if val, ok := emojiMap[code]; ok {
		return val
	}
	return code
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return replacer.Replace(name)
}
