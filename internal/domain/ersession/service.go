package ersession

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// newSessionID returns "ER-<unix ms>-<9 base36 chars>".
func newSessionID(now time.Time) string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("ER-%d-%s", now.UnixMilli(), suffix[:9])
}

// Start checks the patient in and puts them into triage.
func (s *Service) Start(ctx context.Context) (*Session, error) {
	now := s.now()
	sess := &Session{
		ID:        newSessionID(now),
		Steps:     defaultSteps(),
		StartedAt: now,
		UpdatedAt: now,
	}
	sess.advance()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save er session: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("session_id", sess.ID).Msg("er session started")
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// Advance moves the session to its next step. On the last step the session
// is returned unchanged.
func (s *Service) Advance(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.advance() {
		return sess, nil
	}
	sess.UpdatedAt = s.now()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save er session: %w", err)
	}
	zerolog.Ctx(ctx).Debug().
		Str("session_id", sess.ID).
		Str("step", sess.Current().ID).
		Msg("er session advanced")
	return sess, nil
}
