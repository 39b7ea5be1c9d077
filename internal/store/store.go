// Package store persists per-user records behind an ownership check.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jonboulle/clockwork"

	"github.com/fineu/fineu-core/internal/domain"
	"github.com/fineu/fineu-core/internal/i18n"
	"github.com/fineu/fineu-core/internal/integrity"
	"github.com/fineu/fineu-core/internal/kv"
	"github.com/fineu/fineu-core/internal/level"
	"github.com/fineu/fineu-core/internal/session"
	"github.com/fineu/fineu-core/internal/validation"
)

// DefaultStartingCash seeds cash and totalAssets of a fresh record.
const DefaultStartingCash = 10_000_000

var (
	// ErrAccessDenied indicates a request for a user other than the active one.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidUserID indicates a malformed user id.
	ErrInvalidUserID = domain.ErrInvalidUserID
)

// Events passed to the recorder.
const (
	EventIntegrityReset    = "integrity_reset"
	EventIntegrityMismatch = "integrity_mismatch"
	EventCorruptedBlob     = "corrupted_blob"
	EventValidationFailed  = "validation_failed"
)

var eventRecorder = func(event string) {}

// RegisterEventRecorder allows external packages to observe store events.
func RegisterEventRecorder(recorder func(event string)) {
	if recorder == nil {
		eventRecorder = func(string) {}
		return
	}

	eventRecorder = recorder
}

// Options tunes a Store. Zero values fall back to defaults.
type Options struct {
	StartingCash float64
	Clock        clockwork.Clock
	Notifier     Notifier
	Translator   i18n.Translator
}

// Store reads and writes obfuscated, fingerprinted records under user_<id>.
type Store struct {
	backend      kv.Backend
	session      *session.Session
	table        *level.Table
	codec        *integrity.Obfuscator
	schema       validation.Schema
	clock        clockwork.Clock
	notifier     Notifier
	translator   i18n.Translator
	log          *slog.Logger
	startingCash float64

	mu       sync.RWMutex
	policies map[string]Policy
}

// New builds a Store bound to the active session.
func New(backend kv.Backend, sess *session.Session, table *level.Table, codec *integrity.Obfuscator, opts Options, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	if table == nil {
		table = level.Default()
	}
	if opts.StartingCash <= 0 {
		opts.StartingCash = DefaultStartingCash
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier(log)
	}

	s := &Store{
		backend:      backend,
		session:      sess,
		table:        table,
		codec:        codec,
		schema:       validation.UserRecordSchema(table),
		clock:        opts.Clock,
		notifier:     opts.Notifier,
		translator:   opts.Translator,
		log:          log,
		startingCash: opts.StartingCash,
		policies:     make(map[string]Policy),
	}
	s.registerBuiltins()

	return s
}

// Default returns the record a user starts with.
func (s *Store) Default(userID string) domain.UserRecord {
	return domain.UserRecord{
		ID:           userID,
		Level:        s.table.Lowest().Key,
		Experience:   0,
		Assets:       map[string]float64{},
		TotalAssets:  s.startingCash,
		Cash:         s.startingCash,
		LastModified: s.clock.Now().UTC(),
	}
}

// Load returns the stored record for userID. Missing, corrupted or tampered records
// yield the default record.
func (s *Store) Load(ctx context.Context, userID string) (domain.UserRecord, error) {
	if err := s.authorize(userID); err != nil {
		return domain.UserRecord{}, err
	}

	raw, err := s.backend.Get(ctx, kv.UserKey(userID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return s.Default(userID), nil
		}
		return domain.UserRecord{}, fmt.Errorf("load user %s: %w", userID, err)
	}

	rec, err := s.codec.Decode(raw)
	if err != nil {
		s.log.Warn("stored record is corrupted, restoring defaults", slog.String("user_id", userID), slog.Any("error", err))
		eventRecorder(EventCorruptedBlob)
		return s.Default(userID), nil
	}

	if !integrity.Verify(rec) {
		s.log.Warn("stored record failed integrity check, restoring defaults",
			slog.String("user_id", userID), slog.Any("error", integrity.ErrIntegrityMismatch))
		eventRecorder(EventIntegrityMismatch)
		return s.Default(userID), nil
	}

	switch rec.ID {
	case "":
		rec.ID = userID
	case userID:
	default:
		s.log.Warn("stored record belongs to another user, restoring defaults",
			slog.String("user_id", userID), slog.String("record_id", rec.ID))
		eventRecorder(EventIntegrityMismatch)
		return s.Default(userID), nil
	}
	if rec.Assets == nil {
		rec.Assets = map[string]float64{}
	}
	return rec, nil
}

// Save validates rec and persists it for userID. Nothing is written when validation fails.
func (s *Store) Save(ctx context.Context, userID string, rec domain.UserRecord) error {
	if err := s.authorize(userID); err != nil {
		return err
	}

	if _, err := validation.Validate(rec.Fields(), s.schema); err != nil {
		eventRecorder(EventValidationFailed)
		return fmt.Errorf("save user %s: %w", userID, err)
	}

	rec = rec.Clone()
	rec.ID = userID
	if rec.Assets == nil {
		rec.Assets = map[string]float64{}
	}
	return s.write(ctx, rec)
}

// SaveFields validates a loosely typed record, as submitted by a front-end form, and
// persists it. "assets" is carried through when present.
func (s *Store) SaveFields(ctx context.Context, userID string, fields map[string]any) error {
	if err := s.authorize(userID); err != nil {
		return err
	}

	validated, err := validation.Validate(fields, s.schema)
	if err != nil {
		eventRecorder(EventValidationFailed)
		return fmt.Errorf("save user %s: %w", userID, err)
	}
	if assets, ok := fields["assets"]; ok && assets != nil {
		validated["assets"] = assets
	}

	var rec domain.UserRecord
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &rec,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("build record decoder: %w", err)
	}
	if err := decoder.Decode(validated); err != nil {
		eventRecorder(EventValidationFailed)
		return fmt.Errorf("save user %s: %w: assets: %v", userID, validation.ErrTypeMismatch, err)
	}

	rec.ID = userID
	if rec.Assets == nil {
		rec.Assets = map[string]float64{}
	}
	return s.write(ctx, rec)
}

// Erase deletes the stored record for userID.
func (s *Store) Erase(ctx context.Context, userID string) error {
	if err := s.authorize(userID); err != nil {
		return err
	}

	if err := s.backend.Delete(ctx, kv.UserKey(userID)); err != nil {
		return fmt.Errorf("erase user %s: %w", userID, err)
	}
	s.log.Info("user record erased", slog.String("user_id", userID))
	return nil
}

// CheckIntegrity resets the active user's record to defaults when it carries a negative
// balance, notifying the user. It is a no-op without a session.
func (s *Store) CheckIntegrity(ctx context.Context) (bool, error) {
	userID := s.session.UserID()
	if userID == "" {
		return false, nil
	}

	rec, err := s.Load(ctx, userID)
	if err != nil {
		return false, err
	}

	if rec.TotalAssets >= 0 && rec.Cash >= 0 {
		return false, nil
	}

	s.log.Warn("negative balance detected, resetting record",
		slog.String("user_id", userID),
		slog.Float64("total_assets", rec.TotalAssets),
		slog.Float64("cash", rec.Cash))

	if err := s.Save(ctx, userID, s.Default(userID)); err != nil {
		return false, fmt.Errorf("reset user %s: %w", userID, err)
	}
	eventRecorder(EventIntegrityReset)

	s.notifier.Notify(ctx, Notice{
		UserID: userID,
		Key:    NoticeIntegrityReset,
		Text:   s.text(NoticeIntegrityReset),
	})
	return true, nil
}

func (s *Store) write(ctx context.Context, rec domain.UserRecord) error {
	rec.LastModified = s.clock.Now().UTC()
	sealed := integrity.Seal(rec)

	blob, err := s.codec.Encode(sealed)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", rec.ID, err)
	}

	if err := s.backend.Set(ctx, kv.UserKey(rec.ID), blob); err != nil {
		return fmt.Errorf("save user %s: %w", rec.ID, err)
	}

	s.log.Debug("user record saved", slog.String("user_id", rec.ID))
	return nil
}

// authorize checks ownership before anything touches the backend.
func (s *Store) authorize(userID string) error {
	active := s.session.UserID()
	if active == "" || active != userID {
		return fmt.Errorf("%w: user %q is not the active session", ErrAccessDenied, userID)
	}

	return domain.ValidateUserID(userID)
}

func (s *Store) text(key string) string {
	if s.translator == nil {
		return defaultNoticeText[key]
	}
	return s.translator.T(key)
}
