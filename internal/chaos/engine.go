package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Config controls fault injection.
type Config struct {
	Seed int64
	// ErrorRate fails a call with a transient gateway error before it reaches the exchange.
	ErrorRate float64
	// LostAckRate lets an order reach the exchange but loses the response.
	LostAckRate float64
	// BlockRate starts an access block on a call.
	BlockRate     float64
	BlockDuration time.Duration
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return fmt.Errorf("errorRate must be between 0 and 1")
	}
	if c.LostAckRate < 0 || c.LostAckRate > 1 {
		return fmt.Errorf("lostAckRate must be between 0 and 1")
	}
	if c.BlockRate < 0 || c.BlockRate > 1 {
		return fmt.Errorf("blockRate must be between 0 and 1")
	}
	if c.BlockRate > 0 && c.BlockDuration <= 0 {
		return fmt.Errorf("blockDuration must be > 0 when blockRate is set")
	}
	return nil
}

// engine draws seeded decisions. It is safe for concurrent use.
type engine struct {
	cfg Config
	mu  sync.Mutex
	rng *rand.Rand
}

func newEngine(cfg Config) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &engine{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

func (e *engine) hit(rate float64) bool {
	if rate <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64() < rate
}
