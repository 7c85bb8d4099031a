// Package redisrepo implements saga.Repository over Redis.
//
// Each state is a hash at "<prefix><state type>:<correlation id>" with the fields
// version, conversation_id and data (JSON). Saves use WATCH and MULTI so that a
// concurrent writer makes the save fail instead of being overwritten.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medbridge/transponder/saga"
)

const DefaultKeyPrefix = "saga:"

const (
	fieldVersion        = "version"
	fieldConversationID = "conversation_id"
	fieldData           = "data"
)

var errVersionMismatch = errors.New("version mismatch")

// Repository stores saga state of one type in Redis.
type Repository[S saga.State] struct {
	client    redis.UniversalClient
	stateType string
	newState  func() S
	keyPrefix string
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	keyPrefix string
}

// WithKeyPrefix sets the key prefix. Default is "saga:".
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

func New[S saga.State](client redis.UniversalClient, stateType string, newState func() S, opts ...Option) *Repository[S] {
	o := options{keyPrefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}

	return &Repository[S]{
		client:    client,
		stateType: stateType,
		newState:  newState,
		keyPrefix: o.keyPrefix,
	}
}

func (r *Repository[S]) key(correlationID uuid.UUID) string {
	return r.keyPrefix + r.stateType + ":" + correlationID.String()
}

func (r *Repository[S]) Get(ctx context.Context, correlationID uuid.UUID) (S, bool, error) {
	var zero S

	fields, err := r.client.HGetAll(ctx, r.key(correlationID)).Result()
	if err != nil {
		return zero, false, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return zero, false, nil
	}

	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return zero, false, fmt.Errorf("parsing %s state %s version: %w", r.stateType, correlationID, err)
	}

	state := r.newState()
	if data := fields[fieldData]; data != "" {
		if err := json.Unmarshal([]byte(data), state); err != nil {
			return zero, false, fmt.Errorf("decoding %s state %s: %w", r.stateType, correlationID, err)
		}
	}

	state.SetCorrelationID(correlationID)
	if id, err := uuid.Parse(fields[fieldConversationID]); err == nil && id != uuid.Nil {
		state.SetConversationID(id)
	}
	state.SetVersion(version)
	return state, true, nil
}

func (r *Repository[S]) Save(ctx context.Context, state S) (bool, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("encoding %s state: %w", r.stateType, err)
	}

	key := r.key(state.GetCorrelationID())
	expected := state.GetVersion()
	next := expected + 1

	conversationID := ""
	if id := state.GetConversationID(); id != uuid.Nil {
		conversationID = id.String()
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != 0 {
				return errVersionMismatch
			}
		case err != nil:
			return fmt.Errorf("redis hget: %w", err)
		default:
			version, err := strconv.ParseInt(current, 10, 64)
			if err != nil || version != expected {
				return errVersionMismatch
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldVersion, next,
				fieldConversationID, conversationID,
				fieldData, data,
			)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, errVersionMismatch) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("saving %s state %s: %w", r.stateType, state.GetCorrelationID(), err)
	}

	state.SetVersion(next)
	return true, nil
}

func (r *Repository[S]) Delete(ctx context.Context, correlationID uuid.UUID) error {
	if err := r.client.Del(ctx, r.key(correlationID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
