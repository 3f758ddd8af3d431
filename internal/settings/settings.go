// Package settings persists the user-adjustable preferences: the sentence
// delay used by the debounce scheduler and the camera the tracker should use.
//
// Settings are read once at startup and written whenever the user changes
// them. Two [Store] implementations exist: [FileStore] (a YAML document) and
// [PostgresStore] (a key/value table). [MemoryStore] keeps them in-process.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Delay bounds. A valid sentence delay is a whole number of [DelayStep]s
// between [MinDelay] and [MaxDelay].
const (
	MinDelay     = 1 * time.Second
	MaxDelay     = 6 * time.Second
	DelayStep    = 1 * time.Second
	DefaultDelay = 5 * time.Second
)

// Facing selects the camera the landmark tracker should open.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

var (
	// ErrInvalidDelay is returned for delays outside the allowed steps.
	ErrInvalidDelay = errors.New("settings: sentence delay must be 1000-6000 ms in steps of 1000")

	// ErrInvalidFacing is returned for camera facings other than front or back.
	ErrInvalidFacing = errors.New("settings: camera facing must be front or back")
)

// ParseFacing parses s case-insensitively. An empty string yields
// [FacingBack].
func ParseFacing(s string) (Facing, error) {
	switch Facing(strings.ToLower(strings.TrimSpace(s))) {
	case "", FacingBack:
		return FacingBack, nil
	case FacingFront:
		return FacingFront, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFacing, s)
	}
}

// Settings are the persisted user preferences.
type Settings struct {
	SentenceDelay time.Duration
	CameraFacing  Facing
}

// Defaults returns the settings used when nothing has been stored yet.
func Defaults() Settings {
	return Settings{SentenceDelay: DefaultDelay, CameraFacing: FacingBack}
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.SentenceDelay < MinDelay || s.SentenceDelay > MaxDelay || s.SentenceDelay%DelayStep != 0 {
		errs = append(errs, fmt.Errorf("%w: got %d ms", ErrInvalidDelay, s.SentenceDelay.Milliseconds()))
	}
	if s.CameraFacing != FacingFront && s.CameraFacing != FacingBack {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidFacing, s.CameraFacing))
	}
	return errors.Join(errs...)
}

// Document returns the serialised form of s.
func (s Settings) Document() Document {
	return Document{
		SentenceDelayMS: s.SentenceDelay.Milliseconds(),
		CameraFacing:    string(s.CameraFacing),
	}
}

// Document is the wire and file representation of [Settings]. Zero fields
// mean "use the default".
type Document struct {
	SentenceDelayMS int64  `yaml:"sentence_delay_ms" json:"sentence_delay_ms"`
	CameraFacing    string `yaml:"camera_facing" json:"camera_facing"`
}

// Settings converts d, filling zero fields from base, and validates the result.
func (d Document) Settings(base Settings) (Settings, error) {
	s := base
	if d.SentenceDelayMS != 0 {
		s.SentenceDelay = time.Duration(d.SentenceDelayMS) * time.Millisecond
	}
	if d.CameraFacing != "" {
		f, err := ParseFacing(d.CameraFacing)
		if err != nil {
			return Settings{}, err
		}
		s.CameraFacing = f
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Store loads and saves [Settings]. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the stored settings, or [Defaults] when nothing is stored.
	Load(ctx context.Context) (Settings, error)

	// Save validates and persists s.
	Save(ctx context.Context, s Settings) error
}

// MemoryStore is a [Store] that keeps settings in memory only.
type MemoryStore struct {
	mu    sync.Mutex
	s     Settings
	saved bool
}

var _ Store = (*MemoryStore)(nil)

// Load returns the last saved settings or [Defaults].
func (m *MemoryStore) Load(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return Defaults(), nil
	}
	return m.s, nil
}

// Save stores s after validating it.
func (m *MemoryStore) Save(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	m.saved = true
	return nil
}
