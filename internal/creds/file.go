package creds

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileSource reads the bearer token from a file and polls it for changes.
// Host apps rotate the token by rewriting the file; the poll notices and
// fans out to subscribers.
type FileSource struct {
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	current string
	subs    map[int]func()
	next    int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFileSource creates an unstarted FileSource. interval <= 0 defaults to 5s.
func NewFileSource(path string, interval time.Duration, logger *zap.Logger) *FileSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &FileSource{
		path:     path,
		interval: interval,
		logger:   logger,
		subs:     make(map[int]func()),
	}
}

// Start begins polling the token file. The initial read happens synchronously
// so Token() works as soon as Start returns.
func (s *FileSource) Start(ctx context.Context) error {
	token, err := s.read()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.current = token
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.poll(ctx, done)
	return nil
}

// Stop halts polling. Safe to call before Start and more than once.
func (s *FileSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Token returns the most recently read credential.
func (s *FileSource) Token() (string, error) {
	s.mu.Lock()
	token := s.current
	s.mu.Unlock()
	if token != "" {
		return token, nil
	}
	// Not started yet, or the file was empty: read on demand.
	return s.read()
}

// Subscribe registers fn to run after the file contents change.
func (s *FileSource) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *FileSource) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			token, err := s.read()
			if err != nil {
				s.logger.Warn("token file unreadable", zap.String("path", s.path), zap.Error(err))
				continue
			}

			s.mu.Lock()
			changed := token != s.current
			if changed {
				s.current = token
			}
			fns := make([]func(), 0, len(s.subs))
			for _, fn := range s.subs {
				fns = append(fns, fn)
			}
			s.mu.Unlock()

			if changed {
				s.logger.Info("credential rotated", zap.String("path", s.path))
				for _, fn := range fns {
					fn()
				}
			}
		}
	}
}

func (s *FileSource) read() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
