package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewLogger_LevelFilter(t *testing.T) {
	out := &syncBuffer{}
	log, closer, err := NewLogger(LogOptions{Enabled: true, Level: 2, QueueSize: 64, Out: out})
	if err != nil {
		t.Fatal(err)
	}

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	closer.Close()

	got := out.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("Expected info line filtered at level 2, got %q", got)
	}
	if !strings.Contains(got, "shown") {
		t.Errorf("Expected warn line, got %q", got)
	}
}

func TestNewLogger_Disabled(t *testing.T) {
	log, closer, err := NewLogger(LogOptions{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != zerolog.Disabled {
		t.Errorf("Expected a disabled logger, got level %v", log.GetLevel())
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Expected nil close error, got %v", err)
	}
}

func TestNewLogger_WritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	log, closer, err := NewLogger(LogOptions{Enabled: true, Level: 0, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug().Msg("to file")
	closer.Close()

	name := filepath.Join(dir, time.Now().Format(logDateLayout)+logSuffix)
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("Expected the message in the log file, got %q", data)
	}
}

func TestRotatingFile_SplitsAndRolls(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	rf, err := newRotatingFile(dir, func() time.Time { return now })
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	for i := 0; i < MaxLines+1; i++ {
		rf.Write([]byte("x\n"))
	}
	now = now.Add(2 * time.Hour)
	rf.Write([]byte("next day\n"))

	for _, name := range []string{"2024_03_01.log", "2024_03_01-1.log", "2024_03_02.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}
}

func TestLevel(t *testing.T) {
	cases := map[int]zerolog.Level{
		0: zerolog.DebugLevel,
		1: zerolog.InfoLevel,
		2: zerolog.WarnLevel,
		3: zerolog.ErrorLevel,
		9: zerolog.ErrorLevel,
	}
	for in, want := range cases {
		if got := Level(in); got != want {
			t.Errorf("Level(%d): Expected %v, got %v", in, want, got)
		}
	}
}
