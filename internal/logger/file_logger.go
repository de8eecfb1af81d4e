package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes trading activity to a per-session log file. All methods
// are safe on a nil receiver so components can run without a logger in
// tests.
type Logger struct {
	name    string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
)

// NewLogger creates a file logger under logDir named after the bot
// instance. An empty logDir defaults to "logs".
func NewLogger(logDir, name string) (*Logger, error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", name, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		name:    name,
		logFile: file,
		logger:  log.New(file, "", 0),
		logDir:  logDir,
	}
	l.writeSessionHeader()
	return l, nil
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 PYRAMID TRADING SESSION STARTED
================================================================================
Bot: %s
Started: %s
================================================================================
`, l.name, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Status logs market status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogEntryExecution logs a confirmed pyramid entry
func (l *Logger) LogEntryExecution(symbol, orderID string, level int, quantity, price, margin, avgEntry float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	tradeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== ENTRY EXECUTED ====================
✅ Order ID: %s
📦 Quantity: %.6f %s
💰 Price: $%.4f
💵 Margin: $%.2f
🔺 Pyramid Level: %d
📈 Average Entry: $%.4f
=============================================================`,
		timestamp, orderID, quantity, symbol, price, margin, level, avgEntry)

	l.logger.Println(tradeLog)
}

// LogExitExecution logs a confirmed exit, partial or full
func (l *Logger) LogExitExecution(symbol, orderID string, exitCount int, closedQty, remainingQty float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	stage := "PARTIAL EXIT"
	if remainingQty <= 0 {
		stage = "FULL EXIT"
	}
	tradeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== %s EXECUTED ====================
✅ Order ID: %s
📦 Closed: %.6f %s
📦 Remaining: %.6f %s
🚪 Exit Count: %d
=============================================================`,
		timestamp, stage, orderID, closedQty, symbol, remainingQty, symbol, exitCount)

	l.logger.Println(tradeLog)
}

// LogCycleCompletion logs a completed pyramid cycle
func (l *Logger) LogCycleCompletion(symbol string, exitPrice, avgEntry, profitPercent float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	cycleLog := fmt.Sprintf(`
[%s] [TRADE] ==================== CYCLE COMPLETED ====================
🪙 Symbol: %s
🎯 Average Entry: $%.4f
🚪 Exit Price: $%.4f
📊 Price Change: %.2f%%
🔄 Back to flat, waiting for signals...
==============================================================`,
		timestamp, symbol, avgEntry, exitPrice, profitPercent)

	l.logger.Println(cycleLog)
}

// LogPositionSync logs a reconciliation outcome
func (l *Logger) LogPositionSync(symbol, action string, liveSize, liveEntry float64) {
	l.Info("Position sync %s: action=%s size=%.6f entry=$%.4f", symbol, action, liveSize, liveEntry)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		footer := fmt.Sprintf(`
================================================================================
🛑 PYRAMID TRADING SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, timestamp)
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	if l == nil {
		return ""
	}
	timestamp := time.Now().Format("2006-01-02")
	return filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", l.name, timestamp))
}
