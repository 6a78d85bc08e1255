package observability

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const (
	// DefaultQueueSize is the diode ring size when LogOptions.QueueSize is unset
	DefaultQueueSize = 1024
	// MaxLines is the number of lines after which a day's file is split
	MaxLines = 50000

	logSuffix     = ".log"
	logDateLayout = "2006_01_02"
	pollInterval  = 10 * time.Millisecond
)

// LogOptions configures NewLogger
type LogOptions struct {
	Enabled bool
	// Level is 0 debug, 1 info, 2 warn, 3 error
	Level int
	// QueueSize is the number of entries buffered ahead of the sink;
	// when full the oldest are dropped and the loss is reported
	QueueSize int
	// Dir receives one file per day; empty writes to Out
	Dir string
	// Out is used when Dir is empty; defaults to stdout
	Out io.Writer
}

// Level maps the numeric level to zerolog's
func Level(level int) zerolog.Level {
	switch {
	case level <= 0:
		return zerolog.DebugLevel
	case level == 1:
		return zerolog.InfoLevel
	case level == 2:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// NewLogger builds the server logger. The returned closer flushes the
// queue and closes the log file; it is never nil.
func NewLogger(opts LogOptions) (zerolog.Logger, io.Closer, error) {
	if !opts.Enabled {
		return zerolog.Nop(), nopCloser{}, nil
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	var sink io.Writer
	switch {
	case opts.Dir != "":
		rf, err := newRotatingFile(opts.Dir, time.Now)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		sink = rf
	case opts.Out != nil:
		sink = writerOnly{opts.Out}
	default:
		// the diode closes its sink; stdout must outlive the logger
		sink = writerOnly{os.Stdout}
	}

	dw := diode.NewWriter(sink, opts.QueueSize, pollInterval, func(missed int) {
		fmt.Fprintf(os.Stderr, "Logger dropped %d messages\n", missed)
	})

	log := zerolog.New(dw).Level(Level(opts.Level)).With().Timestamp().Logger()
	return log, &logCloser{diode: dw}, nil
}

type writerOnly struct {
	io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// logCloser drains the diode, which then closes its sink
type logCloser struct {
	diode diode.Writer
	once  sync.Once
	err   error
}

func (c *logCloser) Close() error {
	c.once.Do(func() {
		c.err = c.diode.Close()
	})
	return c.err
}

// rotatingFile writes to Dir/2006_01_02.log, opening a new file when the
// day changes and splitting a day into numbered parts every MaxLines lines
type rotatingFile struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	f     *os.File
	day   string
	part  int
	lines int
}

func newRotatingFile(dir string, now func() time.Time) (*rotatingFile, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rf := &rotatingFile{dir: dir, now: now}
	if err := rf.open(now().Format(logDateLayout), 0); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open(day string, part int) error {
	name := day + logSuffix
	if part > 0 {
		name = fmt.Sprintf("%s-%d%s", day, part, logSuffix)
	}
	f, err := os.OpenFile(filepath.Join(rf.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if rf.f != nil {
		rf.f.Close()
	}
	rf.f, rf.day = f, day
	return nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if day := rf.now().Format(logDateLayout); day != rf.day {
		if err := rf.open(day, 0); err != nil {
			return 0, err
		}
		rf.part, rf.lines = 0, 0
	} else if rf.lines >= MaxLines {
		if err := rf.open(day, rf.part+1); err != nil {
			return 0, err
		}
		rf.part++
		rf.lines = 0
	}

	rf.lines += bytes.Count(p, []byte{'\n'})
	return rf.f.Write(p)
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}
