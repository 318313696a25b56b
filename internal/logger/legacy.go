package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// LegacyLogger 舊版 logger（使用 fmt.Fprint*，用於回退）
type LegacyLogger struct {
	level  Level
	out    io.Writer
	fields []any
	mu     *sync.Mutex
}

// NewLegacyLogger 建立 legacy logger，所有輸出寫到 stderr
func NewLegacyLogger(level Level) *LegacyLogger {
	return &LegacyLogger{
		level: level,
		out:   os.Stderr,
		mu:    &sync.Mutex{},
	}
}

func (l *LegacyLogger) write(level Level, msg string, args []any) {
	if level < l.level {
		return
	}
	all := append(append([]any{}, l.fields...), args...)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(level.String()), msg)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String())
}

func (l *LegacyLogger) Debug(msg string, args ...any) { l.write(LevelDebug, msg, args) }
func (l *LegacyLogger) Info(msg string, args ...any)  { l.write(LevelInfo, msg, args) }
func (l *LegacyLogger) Warn(msg string, args ...any)  { l.write(LevelWarn, msg, args) }
func (l *LegacyLogger) Error(msg string, args ...any) { l.write(LevelError, msg, args) }

// With 建立帶固定欄位的子 logger
func (l *LegacyLogger) With(args ...any) Logger {
	return &LegacyLogger{
		level:  l.level,
		out:    l.out,
		fields: append(append([]any{}, l.fields...), args...),
		mu:     l.mu,
	}
}

func (l *LegacyLogger) Sync() error     { return nil }
func (l *LegacyLogger) Shutdown() error { return nil }
