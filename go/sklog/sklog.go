// Package sklog defines the logging functions (e.g. Info, Errorf, etc.).
//
// Debug, Info, Warning, Error, and Fatal use fmt.Sprint to format the
// arguments. Functions ending in f use fmt.Sprintf.
package sklog

import (
	"os"

	_logger "github.com/jcgregorio/logger"
	"github.com/jcgregorio/slog"
)

var impl slog.Logger

func init() {
	impl = _logger.NewFromOptions(&_logger.Options{
		SyncWriter: os.Stderr,
		DepthDelta: 2,
	})
}

// SetLogger replaces the logging backend. Tests use this to capture output.
func SetLogger(l slog.Logger) {
	impl = l
}

func Debug(msg ...interface{}) {
	impl.Debug(msg...)
}

func Debugf(format string, v ...interface{}) {
	impl.Debugf(format, v...)
}

func Info(msg ...interface{}) {
	impl.Info(msg...)
}

func Infof(format string, v ...interface{}) {
	impl.Infof(format, v...)
}

func Warning(msg ...interface{}) {
	impl.Warning(msg...)
}

func Warningf(format string, v ...interface{}) {
	impl.Warningf(format, v...)
}

func Error(msg ...interface{}) {
	impl.Error(msg...)
}

func Errorf(format string, v ...interface{}) {
	impl.Errorf(format, v...)
}

// Fatal* exits the program after logging.
func Fatal(msg ...interface{}) {
	impl.Fatal(msg...)
}

func Fatalf(format string, v ...interface{}) {
	impl.Fatalf(format, v...)
}

func Flush() {
	_ = os.Stderr.Sync()
}
