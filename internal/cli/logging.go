package cli

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/autodub/internal/config"
)

func configureLogger(l *logrus.Logger, c config.Log, out io.Writer) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	l.SetOutput(out)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	return nil
}
