package ersession

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Service) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewService(NewRedisStore(client, ttl))
}

var sessionIDPattern = regexp.MustCompile(`^ER-\d+-[0-9a-z]{9}$`)

func TestService_Start(t *testing.T) {
	mr, svc := setupTestRedis(t, time.Hour)
	fixed := time.UnixMilli(1760000000123)
	svc.now = func() time.Time { return fixed }

	s, err := svc.Start(context.Background())
	require.NoError(t, err)

	assert.Regexp(t, sessionIDPattern, s.ID)
	assert.Contains(t, s.ID, "ER-1760000000123-")
	assert.Equal(t, 1, s.CurrentIndex)
	require.Len(t, s.Steps, 6)
	assert.Equal(t, StepCompleted, s.Steps[0].Status)
	assert.Equal(t, StepInProgress, s.Steps[1].Status)
	for _, st := range s.Steps[2:] {
		assert.Equal(t, StepUpcoming, st.Status, st.ID)
	}
	assert.Equal(t, "triage", s.Current().ID)

	assert.True(t, mr.Exists("er_session:"+s.ID))
	assert.Equal(t, time.Hour, mr.TTL("er_session:"+s.ID))
}

func TestService_Start_UniqueIDs(t *testing.T) {
	_, svc := setupTestRedis(t, time.Hour)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := svc.Start(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[s.ID], "duplicate id %s", s.ID)
		seen[s.ID] = true
	}
}

func TestService_Get(t *testing.T) {
	_, svc := setupTestRedis(t, time.Hour)
	started, err := svc.Start(context.Background())
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, started.ID, got.ID)
	assert.Equal(t, started.Steps, got.Steps)
}

func TestService_Get_NotFound(t *testing.T) {
	_, svc := setupTestRedis(t, time.Hour)
	_, err := svc.Get(context.Background(), "ER-0-missing00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Get_Expired(t *testing.T) {
	mr, svc := setupTestRedis(t, 10*time.Minute)
	s, err := svc.Start(context.Background())
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)
	_, err = svc.Get(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Advance(t *testing.T) {
	_, svc := setupTestRedis(t, time.Hour)
	s, err := svc.Start(context.Background())
	require.NoError(t, err)

	s, err = svc.Advance(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.CurrentIndex)
	assert.Equal(t, StepCompleted, s.Steps[1].Status)
	assert.Equal(t, StepInProgress, s.Steps[2].Status)

	stored, err := svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "waiting-room", stored.Current().ID)
}

func TestService_Advance_LastStepIsNoop(t *testing.T) {
	_, svc := setupTestRedis(t, time.Hour)
	s, err := svc.Start(context.Background())
	require.NoError(t, err)

	for !s.Done() {
		s, err = svc.Advance(context.Background(), s.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, "discharge", s.Current().ID)

	again, err := svc.Advance(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.CurrentIndex, again.CurrentIndex)
	assert.Equal(t, StepInProgress, again.Steps[5].Status)
	for _, st := range again.Steps[:5] {
		assert.Equal(t, StepCompleted, st.Status, st.ID)
	}
}

func TestService_Advance_NotFound(t *testing.T) {
	_, svc := setupTestRedis(t, time.Hour)
	_, err := svc.Advance(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewSessionID(t *testing.T) {
	id := newSessionID(time.UnixMilli(42))
	assert.Regexp(t, sessionIDPattern, id)
	assert.Equal(t, "ER-42-", id[:6])
}
