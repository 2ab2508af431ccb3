package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Record is a single emitted message.
type Record struct {
	Time    time.Time
	Level   Level
	Name    string
	Type    Type
	Message string
	// Err is set only for error-verbose loggers.
	Err    error
	Data   []any
	Caller string
}

// Sink receives records.
type Sink interface {
	Write(rec Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec Record)

// Write implements Sink.
func (f SinkFunc) Write(rec Record) {
	f(rec)
}

var levelColors = map[Level]*color.Color{
	LevelFatal:   color.New(color.BgRed, color.FgWhite, color.Bold),
	LevelError:   color.New(color.FgRed, color.Bold),
	LevelWarn:    color.New(color.FgYellow),
	LevelSuccess: color.New(color.FgGreen),
	LevelInfo:    color.New(color.FgCyan),
	LevelStart:   color.New(color.FgMagenta),
	LevelDebug:   color.New(color.FgHiBlack),
	LevelTrace:   color.New(color.FgBlue),
}

var nameColor = color.New(color.Bold)

// ConsoleSink writes one line per record:
//
//	15:04:05 [INFO] name message err data...
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	colorize bool
}

// NewConsoleSink returns a sink writing to w. Colors follow the terminal
// detection of fatih/color unless overridden with SetColor.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{
		w:        w,
		colorize: !color.NoColor,
	}
}

// SetColor forces colorized output on or off.
func (s *ConsoleSink) SetColor(enabled bool) *ConsoleSink {
	s.mu.Lock()
	s.colorize = enabled
	s.mu.Unlock()
	return s
}

// Write implements Sink.
func (s *ConsoleSink) Write(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString(rec.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(s.paint(levelColors[rec.Level], "["+strings.ToUpper(string(rec.Level))+"]"))
	b.WriteByte(' ')
	b.WriteString(s.paint(nameColor, rec.Name))
	b.WriteByte(' ')
	b.WriteString(rec.Message)
	if rec.Err != nil {
		b.WriteByte(' ')
		b.WriteString(rec.Err.Error())
	}
	for _, d := range rec.Data {
		fmt.Fprintf(&b, " %+v", d)
	}
	if rec.Caller != "" {
		b.WriteString(s.paint(nameColor, " ("+rec.Caller+")"))
	}
	b.WriteByte('\n')

	_, _ = io.WriteString(s.w, b.String())
}

func (s *ConsoleSink) paint(c *color.Color, text string) string {
	if !s.colorize || c == nil {
		return text
	}
	// color.Color.Sprint honours the global NoColor switch; the sink decides per instance.
	painted := *c
	painted.EnableColor()
	return painted.Sprint(text)
}

// ZapSink forwards records to a zap logger. Fatal records are logged at error
// level and never exit the process. The logger name and level travel as
// "component" and "severity" so they do not clash with zap's own "logger" and
// "level" keys.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink returns a sink writing to logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// Write implements Sink.
func (s *ZapSink) Write(rec Record) {
	fields := []zap.Field{
		zap.String("component", rec.Name),
		zap.String("type", string(rec.Type)),
		zap.String("severity", string(rec.Level)),
	}
	if rec.Err != nil {
		fields = append(fields, zap.Error(rec.Err))
	}
	if len(rec.Data) > 0 {
		fields = append(fields, zap.Any("data", rec.Data))
	}
	if rec.Caller != "" {
		fields = append(fields, zap.String("location", rec.Caller))
	}

	switch rec.Level {
	case LevelFatal, LevelError:
		s.logger.Error(rec.Message, fields...)
	case LevelWarn:
		s.logger.Warn(rec.Message, fields...)
	case LevelDebug, LevelTrace:
		s.logger.Debug(rec.Message, fields...)
	default:
		s.logger.Info(rec.Message, fields...)
	}
}
