package listener

import (
	"fmt"
	"os"
	"sync"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"notifyd/internal/common/fsutil"
)

// DefaultFactory returns a factory with the bundled listeners registered
// under BuiltinModule: "file" and "log".
func DefaultFactory(logger zerolog.Logger) *Factory {
	f := NewFactory()
	_ = f.Register(BuiltinModule, "file", func() Listener { return &FileListener{} })
	_ = f.Register(BuiltinModule, "log", func() Listener { return &LogListener{logger: logger} })
	return f
}

// FileListener appends one "TYPE MODE old new" line per transition to the
// file named by the "file" property.
type FileListener struct {
	mu sync.Mutex
	f  *os.File
}

func (l *FileListener) Init(props map[string]string) error {
	path, err := fsutil.ExpandHome(props["file"])
	if err != nil {
		return errors.Trace(err)
	}
	if path == "" {
		return errors.NotValidf("missing \"file\" property")
	}
	if err := fsutil.EnsureParentDir(path); err != nil {
		return errors.Trace(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Annotatef(err, "opening %s", path)
	}
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
	return nil
}

func (l *FileListener) StateChanged(c StateChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("file listener not initialised")
	}
	_, err := fmt.Fprintln(l.f, c.String())
	return errors.Trace(err)
}

func (l *FileListener) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
}

// LogListener logs every transition. The "level" property picks the zerolog
// level (default info).
type LogListener struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (l *LogListener) Init(props map[string]string) error {
	l.level = zerolog.InfoLevel
	if s := props["level"]; s != "" {
		lvl, err := zerolog.ParseLevel(s)
		if err != nil {
			return errors.NotValidf("log level %q", s)
		}
		l.level = lvl
	}
	return nil
}

func (l *LogListener) StateChanged(c StateChange) error {
	l.logger.WithLevel(l.level).
		Str("process_type", string(c.ProcessType)).
		Str("running_mode", string(c.RunningMode)).
		Str("old", string(c.Old)).
		Str("new", string(c.New)).
		Msg("process state changed")
	return nil
}

func (l *LogListener) Cleanup() {}
