package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"stratdeck/internal/core"
)

// Target is the resolved endpoint the dashboard should talk to.
type Target struct {
	Name     string
	Endpoint EndpointConfig
}

// Store owns the configuration file and notifies subscribers when the
// target endpoint changes, whether the change came from this process or
// from an edit to the file by another one. Subscribers rebuild their engine
// client on notification; no engine round trip is involved.
type Store struct {
	v    *viper.Viper
	path string
	log  *zap.Logger

	mu   sync.Mutex
	cfg  *Config
	subs []chan Target
	last string
}

// NewStore loads the config file and starts watching it for changes.
func NewStore(path string, log *zap.Logger) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		v:    v,
		path: path,
		log:  log,
		cfg:  &cfg,
		last: cfg.Target,
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		s.reload()
	})
	v.WatchConfig()

	return s, nil
}

// Config returns the current configuration snapshot.
func (s *Store) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Target returns the currently selected endpoint.
func (s *Store) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Target{Name: s.cfg.Target, Endpoint: s.cfg.Endpoints[s.cfg.Target]}
}

// Subscribe returns a channel receiving the new target whenever the
// selection changes. The channel is buffered; a slow subscriber only ever
// misses intermediate values, never the latest one pending.
func (s *Store) Subscribe() <-chan Target {
	ch := make(chan Target, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// SetTarget switches the selected endpoint and persists the choice to the
// config file, so other running stratdeck processes observe it too.
func (s *Store) SetTarget(name string) error {
	s.mu.Lock()
	if _, ok := s.cfg.Endpoints[name]; !ok {
		s.mu.Unlock()
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown endpoint %q", name))
	}
	s.v.Set("target", name)
	s.cfg.Target = name
	s.mu.Unlock()

	if err := s.v.WriteConfig(); err != nil {
		return fmt.Errorf("persisting target: %w", err)
	}
	s.notify()
	return nil
}

// reload re-reads the configuration after a file change.
func (s *Store) reload() {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		s.log.Warn("ignoring malformed config change", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		s.log.Warn("ignoring invalid config change", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.cfg = &cfg
	s.mu.Unlock()

	s.notify()
}

// notify pushes the current target to subscribers if it changed since the
// last notification.
func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Target == s.last {
		return
	}
	s.last = s.cfg.Target
	t := Target{Name: s.cfg.Target, Endpoint: s.cfg.Endpoints[s.cfg.Target]}

	s.log.Info("target endpoint changed",
		zap.String("target", t.Name),
		zap.String("url", t.Endpoint.URL))

	for _, ch := range s.subs {
		// Drop the stale pending value so the latest always lands.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t:
		default:
		}
	}
}
