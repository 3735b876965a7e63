package pipeline

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Logf adapts a logrus logger to Config.Logf. Lines starting with
// "warning: " are logged at warn level, everything else at info.
func Logf(l logrus.FieldLogger) func(format string, args ...any) {
	return func(format string, args ...any) {
		if rest, ok := strings.CutPrefix(format, "warning: "); ok {
			l.Warnf(rest, args...)
			return
		}
		l.Infof(format, args...)
	}
}
