// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package log centralises logger construction so every component gets a
// consistently prefixed, levelled logrus entry, matching the pattern
// already used ad hoc in the mempool (logger.WithFields(logger.Fields{
// "prefix": "mempool"})).
package log

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process-wide logger.
type Options struct {
	Level    string // one of logrus's level names, default "info"
	FilePath string // if set, also writes rotated logs here, in the same text format
}

// Configure sets up the default logrus logger: a colorized, prefixed
// formatter for the console (when attached to a real TTY), and an
// optional rotating file sink alongside it.
func Configure(opts Options) error {
	level, err := logrus.ParseLevel(orDefault(opts.Level, "info"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     isatty.IsTerminal(os.Stdout.Fd()),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	var out io.Writer = colorable.NewColorableStdout()
	if opts.FilePath != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	logrus.SetOutput(out)
	return nil
}

// WithPrefix returns a logrus entry carrying the "prefix" field every
// component uses to identify its log lines, mirroring the mempool's
// `log = logger.WithFields(logger.Fields{"prefix": "mempool"})` idiom.
func WithPrefix(prefix string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"prefix": prefix})
}

// WithField copies an entry's fields and adds one more, building a
// per-operation log line without mutating the package-level base entry.
func WithField(base *logrus.Entry, key string, value interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for k, v := range base.Data {
		fields[k] = v
	}
	fields[key] = value
	return logrus.WithFields(fields)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
