package skitter

import (
	"os"

	"github.com/sirupsen/logrus"
)

// defaultLogger mirrors the teacher's pipe.go defaultLogger: a quiet
// stderr text logger at WarnLevel, overridable by callers who want
// structured JSON or a different sink/level.
var defaultLogger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.WarnLevel,
}

func loggerOrDefault(l *logrus.Logger) *logrus.Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}
