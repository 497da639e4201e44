package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	logFile  *os.File
	minLevel LogLevel
	colored  bool
	exit     func(int)
}

// NewLogger writes colored output to stdout and JSON lines to
// logs/<service>-<date>.log.
func NewLogger(service string, level string) *Logger {
	if err := os.MkdirAll("logs", 0755); err != nil {
		log.Fatal("Failed to create logs directory:", err)
	}

	logFileName := fmt.Sprintf("logs/%s-%s.log", service, time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatal("Failed to create log file:", err)
	}

	l := &Logger{
		out:      os.Stdout,
		logFile:  logFile,
		minLevel: ParseLevel(level),
		colored:  true,
		exit:     os.Exit,
	}

	l.Info("LOGGER", fmt.Sprintf("Log file: %s", logFileName))
	return l
}

// NewWriterLogger writes uncolored lines to w and keeps no log file.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{
		out:      w,
		minLevel: DEBUG,
		exit:     os.Exit,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger(io.Discard)
}

func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(3)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     levelToString(level),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.colored {
		fmt.Fprint(l.out, formatTerminalOutput(entry))
	} else {
		fmt.Fprintf(l.out, "%s %-5s [%s] %s\n", entry.Timestamp, entry.Level, entry.Category, entry.Message)
	}

	if l.logFile != nil {
		jsonBytes, _ := json.Marshal(entry)
		l.logFile.Write(append(jsonBytes, '\n'))
	}
}

func formatTerminalOutput(entry LogEntry) string {
	var levelColor, categoryColor *color.Color

	switch entry.Level {
	case "DEBUG":
		levelColor = color.New(color.FgCyan)
		categoryColor = color.New(color.FgCyan, color.Bold)
	case "INFO":
		levelColor = color.New(color.FgGreen)
		categoryColor = color.New(color.FgGreen, color.Bold)
	case "WARN":
		levelColor = color.New(color.FgYellow)
		categoryColor = color.New(color.FgYellow, color.Bold)
	default:
		levelColor = color.New(color.FgRed)
		categoryColor = color.New(color.FgRed, color.Bold)
	}

	out := fmt.Sprintf("%s %s %s %s",
		color.New(color.FgBlue).Sprint(entry.Timestamp[11:19]),
		levelColor.Sprintf("%-5s", entry.Level),
		categoryColor.Sprintf("[%-10s]", entry.Category),
		entry.Message,
	)
	if entry.File != "" && entry.Line > 0 {
		out += color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line)
	}
	return out + "\n"
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

func (l *Logger) emit(level LogLevel, category, message string) {
	l.log(level, category, message)
}

func (l *Logger) Debug(category, message string) {
	l.emit(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.emit(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.emit(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.emit(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.emit(FATAL, category, message)
	l.exit(1)
}

// Component helpers

func (l *Logger) LogCoupon(action, couponRef, message string) {
	l.emit(INFO, "COUPON", fmt.Sprintf("[%s] %s - %s", action, couponRef, message))
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.emit(INFO, "API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.emit(INFO, "KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.emit(INFO, "DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.emit(WARN, "SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.Info("LOGGER", "Closing log file")
		l.logFile.Close()
	}
}
