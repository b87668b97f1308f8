package meshport

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// ChaosConfig parameterizes the fault injection a ChaosPort applies to an
// underlying Port, for exercising spec §8's loss-recovery, duplicate-data,
// and idempotent-ACK properties without a real radio.
type ChaosConfig struct {
	Loss    float64 // probability [0,1] a frame is dropped
	Dup     float64 // probability [0,1] a frame is duplicated once
	Reorder float64 // probability [0,1] a frame is given extra delay

	BaseDelay time.Duration
	Jitter    time.Duration

	Up bool // link up/down toggle

	Seed int64
}

// ChaosPort wraps a Port so both outbound Send and inbound Recv pass
// through the fault model.
type ChaosPort struct {
	under Port

	in     chan Inbound
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	up atomic.Bool

	cfgMu sync.RWMutex
	cfg   ChaosConfig

	rngMu sync.Mutex
	rng   *rand.Rand
}

// WrapChaos wraps under with the given fault model and starts pumping
// inbound frames through it.
func WrapChaos(under Port, cfg ChaosConfig) *ChaosPort {
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	c := &ChaosPort{
		under: under,
		in:    make(chan Inbound, 1024),
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	c.up.Store(cfg.Up)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.pumpRecv()
	return c
}

func (c *ChaosPort) LocalID() NodeID { return c.under.LocalID() }

func (c *ChaosPort) Close() {
	c.cancel()
	c.wg.Wait()
	c.under.Close()
}

func (c *ChaosPort) SetUp(up bool) { c.up.Store(up) }

func (c *ChaosPort) Recv(ctx context.Context) (Inbound, bool) {
	select {
	case <-ctx.Done():
		return Inbound{}, false
	case in, ok := <-c.in:
		if !ok {
			return Inbound{}, false
		}
		return in, true
	}
}

func (c *ChaosPort) Send(ctx context.Context, dest NodeID, frame []byte) error {
	if !c.up.Load() {
		return ErrTransient
	}
	cfg := c.getCfg()
	if c.roll() < cfg.Loss {
		return nil // dropped, but sender believes it sent — mirrors real radio silent loss
	}

	deliver := func(extraDelay time.Duration) {
		buf := clone(frame)
		delay := c.delayWithJitter(cfg) + extraDelay
		if delay <= 0 {
			_ = c.under.Send(ctx, dest, buf)
			return
		}
		time.AfterFunc(delay, func() { _ = c.under.Send(context.Background(), dest, buf) })
	}
	deliver(0)
	if c.roll() < cfg.Dup {
		deliver(c.delayWithJitter(cfg))
	}
	return nil
}

func (c *ChaosPort) pumpRecv() {
	defer c.wg.Done()
	for {
		in, ok := c.under.Recv(c.ctx)
		if !ok {
			close(c.in)
			return
		}
		cfg := c.getCfg()
		if !c.up.Load() || c.roll() < cfg.Loss {
			continue
		}
		extra := time.Duration(0)
		if c.roll() < cfg.Reorder {
			extra = c.delayWithJitter(cfg)
		}
		delay := c.delayWithJitter(cfg) + extra
		env := in
		if delay <= 0 {
			c.push(env)
			continue
		}
		time.AfterFunc(delay, func() { c.push(env) })
	}
}

func (c *ChaosPort) push(in Inbound) {
	select {
	case c.in <- in:
	case <-c.ctx.Done():
	default:
		// receiver queue full: drop, matching real device buffer overrun
	}
}

func (c *ChaosPort) getCfg() ChaosConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *ChaosPort) delayWithJitter(cfg ChaosConfig) time.Duration {
	if cfg.Jitter <= 0 {
		return cfg.BaseDelay
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	j := time.Duration(c.rng.Int63n(int64(cfg.Jitter)*2)) - cfg.Jitter
	return cfg.BaseDelay + j
}

func (c *ChaosPort) roll() float64 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Float64()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
