package cache

import (
	"context"
	"errors"
	"time"
)

const denylistPrefix = "labflow:revoked:"

// Denylist records revoked token ids until the token would have expired anyway.
type Denylist struct {
	KV  KV
	Now func() time.Time
}

func NewDenylist(kv KV) *Denylist {
	return &Denylist{KV: kv, Now: time.Now}
}

// Revoke denies jti until expiresAt. Already expired tokens are ignored.
func (d *Denylist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("token id required")
	}
	ttl := expiresAt.Sub(d.Now())
	if ttl <= 0 {
		return nil
	}
	return d.KV.Set(ctx, denylistPrefix+jti, "1", ttl)
}

func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	_, err := d.KV.Get(ctx, denylistPrefix+jti)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
