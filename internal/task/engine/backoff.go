package engine

import (
	"math/rand"
	"time"
)

// backoffDelayWithHint prefers a RetryAfter hint over exponential backoff.
func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	if after, ok := hintedDelay(err); ok {
		return jitter(min(after, opt.RetryMaxDelay), opt, rng)
	}
	return backoffDelay(opt, retry, rng)
}

// backoffDelay is RetryBase * 2^(retry-1), capped by RetryMaxDelay, jittered.
func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for ; retry > 1 && d < opt.RetryMaxDelay; retry-- {
		d *= 2
	}
	return jitter(min(d, opt.RetryMaxDelay), opt, rng)
}

func jitter(d time.Duration, opt TaskOptions, rng *rand.Rand) time.Duration {
	if rng == nil || d <= 0 || opt.RetryJitter <= 0 {
		return d
	}
	f := 1 + opt.RetryJitter*(2*rng.Float64()-1)
	return min(max(time.Duration(float64(d)*f), 0), opt.RetryMaxDelay)
}
