package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/loan-accrual-service/internal/domain"
)

const defaultRedisStatePrefix = "loan_accrual:state"

// saveStateScript writes the record and maintains the active-loan index in one
// round trip. A record that is already completed is left untouched.
var saveStateScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
  local decoded = cjson.decode(current)
  if decoded["completed"] == true then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[1])
if ARGV[2] == "1" then
  redis.call("SREM", KEYS[2], ARGV[3])
else
  redis.call("SADD", KEYS[2], ARGV[3])
end
return 1
`)

// RedisRepository stores each loan's state as the JSON document described by
// domain.AccrualState. Durability depends on the server's AOF/RDB settings.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = defaultRedisStatePrefix
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRepository{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisRepository) stateKey(loanID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, loanID)
}

func (r *RedisRepository) activeKey() string {
	return r.prefix + ":active"
}

func (r *RedisRepository) Load(ctx context.Context, loanID string) (*domain.AccrualState, error) {
	raw, err := r.client.Get(ctx, r.stateKey(loanID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return decodeState(raw)
}

func (r *RedisRepository) Save(ctx context.Context, state domain.AccrualState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal accrual state: %w", err)
	}

	completed := "0"
	if state.Completed {
		completed = "1"
	}

	keys := []string{r.stateKey(state.LoanID), r.activeKey()}
	if err := saveStateScript.Run(ctx, r.client, keys, string(payload), completed, state.LoanID).Err(); err != nil {
		return fmt.Errorf("failed to save accrual state for loan %s: %w", state.LoanID, err)
	}
	return nil
}

func (r *RedisRepository) ListActive(ctx context.Context) ([]domain.AccrualState, error) {
	loanIDs, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(loanIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(loanIDs))
	for _, loanID := range loanIDs {
		keys = append(keys, r.stateKey(loanID))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	states := make([]domain.AccrualState, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		state, err := decodeState([]byte(raw))
		if err != nil {
			return nil, err
		}
		if !state.Completed {
			states = append(states, *state)
		}
	}
	return states, nil
}

func decodeState(raw []byte) (*domain.AccrualState, error) {
	var state domain.AccrualState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode accrual state: %w", err)
	}
	return &state, nil
}
