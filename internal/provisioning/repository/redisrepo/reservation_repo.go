// Package redisrepo implements ReservationRepository on Redis. The live claim
// per number is a SETNX key whose TTL mirrors the reservation's own: an
// overdue hold simply vanishes, so no sweep is needed to free the number.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository"
)

const (
	reservationKeyPrefix = "provisioning:reservation:"
	numberKeyPrefix      = "provisioning:number:"

	// casAttempts bounds optimistic-lock retries on concurrent transitions.
	casAttempts = 5
)

type redisReservationRepository struct {
	client *redis.Client
}

// NewRedisReservationRepository creates a ReservationRepository backed by Redis.
func NewRedisReservationRepository(client *redis.Client) repository.ReservationRepository {
	return &redisReservationRepository{client: client}
}

func reservationKey(id string) string { return reservationKeyPrefix + id }
func numberKey(number string) string  { return numberKeyPrefix + number }

func (r *redisReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ttl := res.ExpiresAt.Sub(res.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("reservation %s: non-positive TTL: %w", res.ID, domain.ErrValidation)
	}

	claimed, err := r.client.SetNX(ctx, numberKey(res.Number), res.ID, ttl).Result()
	if err != nil {
		return fmt.Errorf("claim number %s: %w", res.Number, err)
	}
	if !claimed {
		return fmt.Errorf("number %s: %w", res.Number, domain.ErrAlreadyReserved)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}
	if err := r.client.Set(ctx, reservationKey(res.ID), raw, 0).Err(); err != nil {
		// Roll the claim back so the number is not wedged behind a claim
		// with no record.
		r.client.Del(ctx, numberKey(res.Number))
		return fmt.Errorf("store reservation %s: %w", res.ID, err)
	}
	return nil
}

func (r *redisReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	raw, err := r.client.Get(ctx, reservationKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	res := &domain.Reservation{}
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return res, nil
}

func (r *redisReservationRepository) FindLiveByNumber(ctx context.Context, number string) (*domain.Reservation, error) {
	id, err := r.client.Get(ctx, numberKey(number)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("number %s: %w", number, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("lookup live claim for %s: %w", number, err)
	}
	return r.GetByID(ctx, id)
}

func (r *redisReservationRepository) Transition(ctx context.Context, id string, from, to domain.ReservationState) (*domain.Reservation, error) {
	var out *domain.Reservation

	txn := func(tx *redis.Tx) error {
		res, err := getWatched(tx, ctx, id)
		if err != nil {
			return err
		}
		if res.State != from {
			return fmt.Errorf("reservation %s is %s, not %s: %w", id, res.State, from, domain.ErrStaleReservation)
		}

		res.State = to
		raw, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal reservation: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, reservationKey(id), raw, 0)
			switch to {
			case domain.ReservationActivated:
				// An activated hold outlives the TTL on the claim key.
				pipe.Persist(ctx, numberKey(res.Number))
			case domain.ReservationReleased, domain.ReservationExpired:
				pipe.Del(ctx, numberKey(res.Number))
			}
			return nil
		})
		if err == nil {
			out = res
		}
		return err
	}

	if err := r.watchCAS(ctx, txn, reservationKey(id)); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *redisReservationRepository) ExpireIfDue(ctx context.Context, id string, now time.Time) (*domain.Reservation, error) {
	var out *domain.Reservation

	txn := func(tx *redis.Tx) error {
		res, err := getWatched(tx, ctx, id)
		if err != nil {
			return err
		}
		if !res.Due(now) {
			return nil
		}

		res.State = domain.ReservationExpired
		raw, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal reservation: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, reservationKey(id), raw, 0)
			pipe.Del(ctx, numberKey(res.Number))
			return nil
		})
		if err == nil {
			out = res
		}
		return err
	}

	if err := r.watchCAS(ctx, txn, reservationKey(id)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (r *redisReservationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, reservationKey(id))
	if res.State == domain.ReservationHeld || res.State == domain.ReservationActivated {
		pipe.Del(ctx, numberKey(res.Number))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	return nil
}

// watchCAS runs fn under optimistic locking, retrying on concurrent writes.
func (r *redisReservationRepository) watchCAS(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < casAttempts; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("reservation transition contention: %w", redis.TxFailedErr)
}

func getWatched(tx *redis.Tx, ctx context.Context, id string) (*domain.Reservation, error) {
	raw, err := tx.Get(ctx, reservationKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	res := &domain.Reservation{}
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return res, nil
}
