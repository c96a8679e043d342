// Package logger hands out one named logger per subsystem. Subsystem
// loggers are created at package-init time, before main decides whether a
// log file exists, so the file sink is attached through a deferred core
// that starts forwarding once InitLog runs.
package logger

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultThresholdKB = 100 * 1000 // 100 MB logs by default.
	defaultMaxRolls    = 8          // keep 8 last logs by default.
)

var (
	registryMutex sync.Mutex
	backendLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	subsystems    = make(map[string]*zap.SugaredLogger)

	fileCore   atomic.Value // coreHolder
	logRotator *rotator.Rotator
)

// coreHolder keeps atomic.Value stores consistently typed across the
// different Core implementations.
type coreHolder struct {
	core zapcore.Core
}

func loadFileCore() zapcore.Core {
	holder, _ := fileCore.Load().(coreHolder)
	return holder.core
}

// deferredFileCore forwards entries to the file core installed by InitLog;
// entries logged before that are dropped from the file (they still reach
// stdout).
type deferredFileCore struct {
	fields []zapcore.Field
}

func (c *deferredFileCore) Enabled(level zapcore.Level) bool {
	core := loadFileCore()
	return core != nil && core.Enabled(level)
}

func (c *deferredFileCore) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	combined = append(combined, c.fields...)
	combined = append(combined, fields...)
	return &deferredFileCore{fields: combined}
}

func (c *deferredFileCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *deferredFileCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	core := loadFileCore()
	if core == nil {
		return nil
	}
	return core.With(c.fields).Write(entry, fields)
}

func (c *deferredFileCore) Sync() error {
	core := loadFileCore()
	if core == nil {
		return nil
	}
	return core.Sync()
}

func newConsoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// RegisterSubSystem returns the logger for the given subsystem tag,
// creating it on first request.
func RegisterSubSystem(subsystem string) *zap.SugaredLogger {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if logger, ok := subsystems[subsystem]; ok {
		return logger
	}
	stdoutCore := zapcore.NewCore(newConsoleEncoder(), zapcore.Lock(os.Stdout), backendLevel)
	logger := zap.New(zapcore.NewTee(stdoutCore, &deferredFileCore{})).Named(subsystem).Sugar()
	subsystems[subsystem] = logger
	return logger
}

// InitLog starts mirroring every subsystem logger into a rotating file.
func InitLog(logFile string) error {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if logRotator != nil {
		return errors.New("log rotator already initialized")
	}
	r, err := rotator.New(logFile, defaultThresholdKB, false, defaultMaxRolls)
	if err != nil {
		return errors.Wrapf(err, "failed to create file rotator for %s", logFile)
	}
	logRotator = r
	fileCore.Store(coreHolder{core: zapcore.NewCore(newConsoleEncoder(), zapcore.AddSync(r), backendLevel)})
	return nil
}

// SetLogLevel changes the threshold shared by every subsystem logger.
func SetLogLevel(level string) error {
	parsed, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "unknown log level %s", level)
	}
	backendLevel.SetLevel(parsed)
	return nil
}

// Close flushes and closes the file sink, if any.
func Close() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if logRotator != nil {
		fileCore.Store(coreHolder{core: zapcore.NewNopCore()})
		logRotator.Close()
		logRotator = nil
	}
}
