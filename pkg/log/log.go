package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	BASE_PATH string = "/var/log/bgpsim"
)

type Logger interface {
	Info(string, ...any)
	Warn(string, ...any)
	Err(string, ...any)
	SetProtocol(protocol string)
	Set(key, value string)
	// SetClock attaches the simulated time to every subsequent record.
	SetClock(clock func() time.Duration)
	With() Logger
	Level() Level
}

type logger struct {
	zerolog.Logger
	level    Level
	out      io.Writer
	protocol string
	clock    func() time.Duration
}

type Level uint8

const (
	NoLog Level = iota
	Info  Level = iota
	Warn  Level = iota
	Error Level = iota
)

func (l Level) String() string {
	switch l {
	case NoLog:
		return "nolog"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "nolog", "none":
		return NoLog, nil
	case "info":
		return Info, nil
	case "warn":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return NoLog, fmt.Errorf("Invalid log level %q", s)
	}
}

// New returns a json logger writing to out.
// out is one of "stdout", "stderr", "" (discard) or a file under BASE_PATH.
func New(level Level, out string) (Logger, error) {
	if level > Error {
		return nil, fmt.Errorf("New logger: Invalid log level.")
	}
	l := &logger{
		level: level,
	}
	switch out {
	case "stdout":
		l.out = os.Stdout
	case "stderr":
		l.out = os.Stderr
	case "":
		l.out = io.Discard
	default:
		ok, err := filepath.Match(BASE_PATH+"/*", out)
		if err != nil {
			return nil, fmt.Errorf("New logger: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("New logger: Invalid output path %s.\n  Output path must be under %s", out, BASE_PATH)
		}
		if err := os.MkdirAll(BASE_PATH, 0755); err != nil {
			return nil, fmt.Errorf("New logger: %w", err)
		}
		file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
		if err != nil {
			return nil, fmt.Errorf("New logger: %w", err)
		}
		l.out = file
	}
	l.Logger = zerolog.New(l.out).With().Timestamp().Logger()
	return l, nil
}

// NewWriter builds a logger on top of an arbitrary writer.
func NewWriter(level Level, out io.Writer) Logger {
	return &logger{
		level:  level,
		out:    out,
		Logger: zerolog.New(out).With().Timestamp().Logger(),
	}
}

func (l *logger) Info(format string, v ...any) {
	if l.level < Warn && l.level > NoLog {
		l.Logger.Info().Msgf(format, v...)
	}
}

func (l *logger) Warn(format string, v ...any) {
	if l.level < Error && l.level > NoLog {
		l.Logger.Warn().Msgf(format, v...)
	}
}

func (l *logger) Err(format string, v ...any) {
	if l.level > NoLog {
		l.Logger.Error().Msgf(format, v...)
	}
}

func (l *logger) SetProtocol(protocol string) {
	l.protocol = protocol
	l.Logger = l.Logger.With().Str("protocol", protocol).Logger()
}

func (l *logger) Set(key, value string) {
	l.Logger = l.Logger.With().Str(key, value).Logger()
}

func (l *logger) SetClock(clock func() time.Duration) {
	l.clock = clock
	l.Logger = l.Logger.Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
		e.Dur("sim_time", clock())
	}))
}

func (l *logger) With() Logger {
	return &logger{
		level:    l.level,
		out:      l.out,
		protocol: l.protocol,
		clock:    l.clock,
		Logger:   l.Logger.With().Logger(),
	}
}

func (l *logger) Level() Level {
	return l.level
}
