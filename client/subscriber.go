package client

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
)

type PoolConfig struct {
	Size           int           `yaml:"size"`
	PreAlloc       bool          `yaml:"pre_alloc"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
}

type SubscriberConfig struct {
	// Async dispatches each push to a worker pool instead of invoking the
	// handler inline. Ordering across pushes is not preserved.
	Async bool       `yaml:"async"`
	Pool  PoolConfig `yaml:"pool"`
}

func (c *SubscriberConfig) ValidateAndSetDefaults() error {
	if c.Async {
		if c.Pool.Size == 0 {
			c.Pool.Size = 1000
		}
		if c.Pool.ReleaseTimeout == 0 {
			c.Pool.ReleaseTimeout = 5 * time.Second
		}
	}
	return nil
}

// Subscribe drains the push channel through h until ctx ends or reception
// is cancelled. It is a convenience over Receive for subscription style
// workloads; the caller still issues the SUBSCRIBE commands via Exec.
func (c *Connection) Subscribe(ctx context.Context, h func(Push), conf SubscriberConfig) error {
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return err
	}

	var pl *ants.Pool
	if conf.Async {
		var err error
		pl, err = ants.NewPool(conf.Pool.Size, ants.WithPreAlloc(conf.Pool.PreAlloc))
		if err != nil {
			return err
		}
		defer func() {
			if err := pl.ReleaseTimeout(conf.Pool.ReleaseTimeout); err != nil {
				c.l.Error("release subscriber pool", "err", err)
			}
		}()
	}

	for {
		p, err := c.push.receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if pl == nil {
			h(p)
			continue
		}

		if err := pl.Submit(func() { h(p) }); err != nil {
			return err
		}
	}
}
