package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors events at or above MinLevel into the broadcast chat.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./workhub.log"

// Service owns the log outputs and rebuilds them on Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File
	chat *chatWriter

	zl atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the Service with its root Logger. sink may be
// nil, in which case the chat mirror stays silent.
func New(cfg Config, sink Sink) (*Service, Logger) {
	s := &Service{chat: newChatWriter(sink)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSink replaces the chat sink.
func (s *Service) SetSink(sink Sink) { s.chat.setSink(sink) }

// Apply rebuilds outputs from cfg. Loggers already handed out follow the
// change. A log file that cannot be opened is reported on stderr and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(stdout))
	}

	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	s.chat.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		outs = append(outs, s.chat)
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(stdout))
	}
	zl := newZerolog(zerolog.MultiLevelWriter(outs...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.zl.Store(&zl)

	if prev != nil {
		_ = prev.Close()
	}
}

// Close stops the chat mirror and closes the log file. Logging after Close
// still works on the remaining outputs.
func (s *Service) Close() error {
	s.chat.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
