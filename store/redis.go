package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/vitwit/depay/types"
)

var _ Store = (*Redis)(nil)

const maxTxRetries = 16

// Redis is a Store backed by a Redis server.
//
// Balances are kept as decimal strings and updated with WATCH/MULTI so the
// 256-bit arithmetic happens client side. Every key lives under prefix,
// which should be unique per engine instance.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "depay"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// ConnectRedis dials addr and verifies the connection.
func ConnectRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return NewRedis(rdb, prefix), nil
}

func (r *Redis) settledKey(hash common.Hash) string {
	return fmt.Sprintf("%s:settled:%s", r.prefix, hash.Hex())
}

func (r *Redis) balanceKey(owner common.Address) string {
	return fmt.Sprintf("%s:balance:%s", r.prefix, owner.Hex())
}

func (r *Redis) totalKey() string {
	return r.prefix + ":total"
}

func (r *Redis) IsSettled(ctx context.Context, hash common.Hash) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.settledKey(hash)).Result()
	if err != nil {
		return false, storeErr("exists", err)
	}
	return n > 0, nil
}

func (r *Redis) ApplyPayment(ctx context.Context, hash common.Hash, credits []types.Credit) error {
	totals, err := sumCredits(credits)
	if err != nil {
		return err
	}

	keys := []string{r.settledKey(hash), r.totalKey()}
	for owner := range totals {
		keys = append(keys, r.balanceKey(owner))
	}

	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, r.settledKey(hash)).Result()
		if err != nil {
			return storeErr("exists", err)
		}
		if n > 0 {
			return types.NewError(types.ErrCodeHashAlreadyUsed, "payment hash %s already used", hash.Hex())
		}

		total, err := r.getAmount(ctx, tx, r.totalKey())
		if err != nil {
			return err
		}

		updated := make(map[string]*uint256.Int, len(totals))
		for owner, amount := range totals {
			cur, err := r.getAmount(ctx, tx, r.balanceKey(owner))
			if err != nil {
				return err
			}
			sum, overflow := new(uint256.Int).AddOverflow(cur, amount)
			if overflow {
				return types.NewError(types.ErrCodeBalanceOverflow, "balance overflow for %s", owner.Hex())
			}
			if _, overflow := total.AddOverflow(total, amount); overflow {
				return types.NewError(types.ErrCodeBalanceOverflow, "total balance overflow")
			}
			updated[r.balanceKey(owner)] = sum
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.settledKey(hash), 1, 0)
			for key, v := range updated {
				pipe.Set(ctx, key, v.Dec(), 0)
			}
			pipe.Set(ctx, r.totalKey(), total.Dec(), 0)
			return nil
		})
		return err
	}, keys...)
}

func (r *Redis) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return r.getAmount(ctx, r.rdb, r.balanceKey(owner))
}

func (r *Redis) Credit(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	key := r.balanceKey(owner)
	return r.watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.getAmount(ctx, tx, key)
		if err != nil {
			return err
		}
		total, err := r.getAmount(ctx, tx, r.totalKey())
		if err != nil {
			return err
		}
		sum, overflow := new(uint256.Int).AddOverflow(cur, amount)
		if overflow {
			return types.NewError(types.ErrCodeBalanceOverflow, "balance overflow for %s", owner.Hex())
		}
		if _, overflow := total.AddOverflow(total, amount); overflow {
			return types.NewError(types.ErrCodeBalanceOverflow, "total balance overflow")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, sum.Dec(), 0)
			pipe.Set(ctx, r.totalKey(), total.Dec(), 0)
			return nil
		})
		return err
	}, key, r.totalKey())
}

func (r *Redis) DebitAll(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	key := r.balanceKey(owner)
	var out *uint256.Int

	err := r.watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.getAmount(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.IsZero() {
			return types.NewError(types.ErrCodeNothingToWithdraw, "nothing to withdraw for %s", owner.Hex())
		}
		total, err := r.getAmount(ctx, tx, r.totalKey())
		if err != nil {
			return err
		}
		if total.Lt(cur) {
			total.Clear()
		} else {
			total.Sub(total, cur)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.Set(ctx, r.totalKey(), total.Dec(), 0)
			return nil
		})
		if err == nil {
			out = cur
		}
		return err
	}, key, r.totalKey())

	return out, err
}

func (r *Redis) Total(ctx context.Context) (*uint256.Int, error) {
	return r.getAmount(ctx, r.rdb, r.totalKey())
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// watch runs fn inside WATCH keys, retrying when another client raced us.
func (r *Redis) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var de *types.DePayError
		if err != nil && !errors.As(err, &de) {
			return storeErr("transaction", err)
		}
		return err
	}
	return types.NewError(types.ErrCodeStoreError, "redis transaction retries exhausted")
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) getAmount(ctx context.Context, c getter, key string) (*uint256.Int, error) {
	s, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, storeErr("get "+key, err)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, types.NewError(types.ErrCodeStoreError, "corrupt amount at %s: %v", key, err)
	}
	return v, nil
}

func storeErr(op string, err error) error {
	return &types.DePayError{
		Code:    types.ErrCodeStoreError,
		Message: fmt.Sprintf("redis %s: %v", op, err),
		Data:    err,
	}
}
