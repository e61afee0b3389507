package diag

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's own level ordering so call sites across the
// tree need no renaming.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a structured event logger: one JSON line per event, written
// through rs/zerolog to a rotating file sink (falling back to stderr if the
// sink is unset), gated by level.
type Logger struct {
	corrID string
	level  Level
	zl     zerolog.Logger
}

// NewLogger builds a Logger at the given level, writing through a 10MB-
// rotating file sink under "logs" (the teacher's own default path/size).
func NewLogger(corrID, level string) *Logger {
	lvl := parseLevel(strings.TrimSpace(level))
	sink := NewRotatingFile("logs", 10*1024*1024)
	return newLoggerWithWriter(corrID, lvl, sink)
}

func newLoggerWithWriter(corrID string, lvl Level, w *RotatingFile) *Logger {
	var zl zerolog.Logger
	if w != nil {
		zl = zerolog.New(w)
	} else {
		zl = zerolog.New(os.Stderr)
	}
	zl = zl.Level(lvl.zerolog()).With().Str("corr_id", corrID).Timestamp().Logger()
	return &Logger{corrID: corrID, level: lvl, zl: zl}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event is the standard event shape; kept for callers that build one
// explicitly rather than going through the Start*/Error* helpers.
type Event struct {
	Level  string
	TS     string
	CorrID string
	Comp   string
	Stage  string // start|finish|error
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Batch  string
	Msg    string
	KV     map[string]string
}

func (l *Logger) emit(zev *zerolog.Event, ev Event) {
	zev.Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		zev.Str("code", ev.Code)
	}
	if ev.DurMS > 0 {
		zev.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count > 0 {
		zev.Int64("count", ev.Count)
	}
	if ev.FileID != "" {
		zev.Str("file_id", ev.FileID)
	}
	if ev.Batch != "" {
		zev.Str("batch_id", ev.Batch)
	}
	for k, v := range ev.KV {
		zev.Str(k, v)
	}
	zev.Msg(ev.Msg)
}

// Start records a start event; returns a Timer for the matching Finish.
func (l *Logger) Start(comp, msg string) *Timer {
	l.emit(l.zl.Info(), Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith records a start event carrying file_id/batch_id.
func (l *Logger) StartWith(comp, msg, fileID, batch string) *Timer {
	l.emit(l.zl.Info(), Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// StartWithKV records a start event carrying file_id/batch_id plus arbitrary
// key/value pairs.
func (l *Logger) StartWithKV(comp, msg, fileID, batch string, kv map[string]string) *Timer {
	l.emit(l.zl.Info(), Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// Error records an error event.
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.emit(l.zl.Error(), Event{Comp: comp, Stage: "error", Code: code, DurMS: durMS(durSince), Msg: msg})
}

// ErrorWith records an error event carrying file_id/batch_id.
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, batch string) {
	l.emit(l.zl.Error(), Event{Comp: comp, Stage: "error", Code: code, DurMS: durMS(durSince), Msg: msg, FileID: fileID, Batch: batch})
}

// ErrorWithKV records an error event with extra key/value pairs (e.g. an
// upstream HTTP status code or truncated upstream message).
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, batch string, kv map[string]string) {
	l.emit(l.zl.Error(), Event{Comp: comp, Stage: "error", Code: code, DurMS: durMS(durSince), Msg: msg, FileID: fileID, Batch: batch, KV: kv})
}

// InfoFinish records a finish event given an already-known start time.
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.emit(l.zl.Info(), Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart records a debug-level start event, visible only when the
// logger's level is Debug.
func (l *Logger) DebugStart(comp, msg, fileID, batch string, kv map[string]string) {
	l.emit(l.zl.Debug(), Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
}

func durMS(since *time.Time) int64 {
	if since == nil {
		return 0
	}
	return time.Since(*since).Milliseconds()
}

// Timer tracks a start->finish span.
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	batch  string
	t0     time.Time
}

// Finish records the matching finish event.
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.emit(t.l.zl.Info(), Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Batch: t.batch, Msg: msg})
}
