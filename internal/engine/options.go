package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/signing"
)

// Clock supplies wall-clock time for timestamp bounds and age-based pruning.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// PrunePolicy bounds one message set. Zero fields mean no bound.
type PrunePolicy struct {
	MaxCount      int
	MaxAgeSeconds uint32
}

// DefaultPrunePolicies returns the retention used when none is configured.
func DefaultPrunePolicies() map[message.SetType]PrunePolicy {
	return map[message.SetType]PrunePolicy{
		message.SetCast:         {MaxCount: 10000, MaxAgeSeconds: 365 * 24 * 60 * 60},
		message.SetReaction:     {MaxCount: 5000, MaxAgeSeconds: 90 * 24 * 60 * 60},
		message.SetAmp:          {MaxCount: 2500},
		message.SetVerification: {MaxCount: 50},
		message.SetUserData:     {MaxCount: 100},
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithNetwork sets the network whose messages the engine accepts.
//
// Default: message.NetworkDevnet
func WithNetwork(n message.Network) Option {
	return func(e *Engine) {
		e.network = n
	}
}

// WithVerifier replaces the signature verifier.
//
// Default: signing.DefaultVerifier
func WithVerifier(v signing.Verifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

// WithPrunePolicies replaces the per-set retention. Sets missing from
// policies are never pruned. The signer set is never pruned.
func WithPrunePolicies(policies map[message.SetType]PrunePolicy) Option {
	return func(e *Engine) {
		e.policies = make(map[message.SetType]PrunePolicy, len(policies))
		for set, p := range policies {
			if set == message.SetSigner {
				continue
			}
			e.policies[set] = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}
