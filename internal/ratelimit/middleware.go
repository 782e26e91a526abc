package ratelimit

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/config"
	apperrors "github.com/spec-kit/authgate/pkg/util/errorutil"
)

const decisionsKey = "ratelimit_decisions"

// Header names set on throttled routes.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Classes maps operation classes to the ordered tiers a request must pass.
type Classes struct {
	limiter *Limiter
	classes map[string][]Tier
}

// NewClasses resolves configured class definitions against configured tiers.
func NewClasses(limiter *Limiter, cfg config.RateLimitConfig) (*Classes, error) {
	tiers := make(map[string]Tier, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers[t.Name] = TierFromConfig(t)
	}

	classes := make(map[string][]Tier, len(cfg.Classes))
	for class, names := range cfg.Classes {
		for _, name := range names {
			tier, ok := tiers[name]
			if !ok {
				return nil, fmt.Errorf("rate class %s: unknown tier %s", class, name)
			}
			classes[class] = append(classes[class], tier)
		}
	}
	return &Classes{limiter: limiter, classes: classes}, nil
}

// Require returns middleware that charges the caller against each named class
// in order. Authenticated callers are keyed by local user id, anonymous ones
// by client IP. Unknown class names panic at route registration.
func (c *Classes) Require(names ...string) fiber.Handler {
	type step struct {
		name  string
		tiers []Tier
	}
	steps := make([]step, 0, len(names))
	for _, name := range names {
		tiers, ok := c.classes[name]
		if !ok {
			panic(fmt.Sprintf("ratelimit: unknown class %q", name))
		}
		steps = append(steps, step{name: name, tiers: tiers})
	}

	return func(ctx *fiber.Ctx) error {
		id := identifier(ctx)
		decisions := DecisionsFromContext(ctx)

		var tightest *Decision
		for _, s := range steps {
			d := c.limiter.CheckAll(ctx.UserContext(), id, s.tiers)
			if !d.Allowed {
				return apperrors.NewTooManyRequests("rate limit exceeded", d.RetryAfter, map[string]any{
					"tier": d.Tier,
				})
			}
			decisions[s.name] = d
			if tightest == nil || d.Remaining < tightest.Remaining {
				tightest = &d
			}
		}

		ctx.Locals(decisionsKey, decisions)
		if tightest != nil && !tightest.Degraded {
			ctx.Set(HeaderRemaining, strconv.Itoa(tightest.Remaining))
			ctx.Set(HeaderReset, strconv.FormatInt(tightest.ResetAt.Unix(), 10))
		}
		return ctx.Next()
	}
}

// DecisionsFromContext returns the allowed decisions recorded for this request,
// keyed by class name.
func DecisionsFromContext(ctx *fiber.Ctx) map[string]Decision {
	if decisions, ok := ctx.Locals(decisionsKey).(map[string]Decision); ok {
		return decisions
	}
	return make(map[string]Decision)
}

func identifier(ctx *fiber.Ctx) string {
	if principal, ok := auth.PrincipalFromContext(ctx); ok && principal.User != nil {
		return principal.User.ID
	}
	return "ip:" + ctx.IP()
}
