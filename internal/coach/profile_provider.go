package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// UserProfile is the document the nutrition backend syncs into Redis for each
// active user. It carries everything the coach needs besides conversation
// history.
type UserProfile struct {
	User      UserInfo           `json:"user"`
	Nutrition *NutritionSnapshot `json:"nutrition,omitempty"`
	Wellness  *WellnessSnapshot  `json:"wellness,omitempty"`
	Program   *ProgramState      `json:"program,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// RedisProfileProvider reads synced user profiles and derives temporal
// signals from the user's timezone. A missing profile yields a minimal
// context rather than an error.
type RedisProfileProvider struct {
	redis           *redis.Client
	defaultTimezone string
	logger          *logging.Logger
	tracer          trace.Tracer
	now             func() time.Time
}

// NewRedisProfileProvider panics on nil client.
func NewRedisProfileProvider(client *redis.Client, defaultTimezone string, logger *logging.Logger) *RedisProfileProvider {
	if client == nil {
		panic("coach: RedisProfileProvider requires a redis client")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisProfileProvider{
		redis:           client,
		defaultTimezone: defaultTimezone,
		logger:          logger,
		tracer:          otel.Tracer("lym.internal.coach.profile"),
		now:             time.Now,
	}
}

func (p *RedisProfileProvider) key(userID string) string {
	return fmt.Sprintf("coach:profile:%s", userID)
}

// SaveProfile writes a profile document. Used by the sync consumer and tests.
func (p *RedisProfileProvider) SaveProfile(ctx context.Context, profile UserProfile) error {
	if profile.User.UserID == "" {
		return errors.New("coach: profile has no user id")
	}
	profile.UpdatedAt = p.now().UTC()
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("coach: failed to marshal profile: %w", err)
	}
	if err := p.redis.Set(ctx, p.key(profile.User.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("coach: failed to save profile: %w", err)
	}
	return nil
}

// Snapshot implements ContextProvider. History is left empty; the engine
// backfills it from the turn store.
func (p *RedisProfileProvider) Snapshot(ctx context.Context, userID, _ string) (ConversationContextFull, error) {
	ctx, span := p.tracer.Start(ctx, "coach.profile_snapshot")
	defer span.End()

	full := ConversationContextFull{User: UserInfo{UserID: userID}}

	data, err := p.redis.Get(ctx, p.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			full.Temporal = p.temporal(p.defaultTimezone)
			return full, nil
		}
		return full, fmt.Errorf("coach: failed to load profile: %w", err)
	}

	var profile UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		span.RecordError(err)
		return full, fmt.Errorf("coach: failed to unmarshal profile: %w", err)
	}

	full.User = profile.User
	if full.User.UserID == "" {
		full.User.UserID = userID
	}
	full.Nutrition = profile.Nutrition
	full.Wellness = profile.Wellness
	full.Program = profile.Program

	tz := profile.User.Timezone
	if tz == "" {
		tz = p.defaultTimezone
	}
	full.Temporal = p.temporal(tz)
	return full, nil
}

func (p *RedisProfileProvider) temporal(timezone string) *TemporalSignals {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := p.now().In(loc)
	wd := local.Weekday()
	return &TemporalSignals{
		LocalTime: local,
		DayPart:   dayPart(local.Hour()),
		IsWeekend: wd == time.Saturday || wd == time.Sunday,
	}
}

func dayPart(hour int) string {
	switch {
	case hour < 6:
		return "nuit"
	case hour < 11:
		return "matin"
	case hour < 14:
		return "midi"
	case hour < 18:
		return "après-midi"
	case hour < 23:
		return "soir"
	default:
		return "nuit"
	}
}
