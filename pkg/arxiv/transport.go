package arxiv

import (
	"net/http"

	"golang.org/x/time/rate"
)

// throttledTransport is a defense-in-depth outer throttle on the HTTP
// transport itself, independent of the caller-supplied Limiter that gates
// Search. It exists so a future caller who constructs a Client without a
// Limiter (or shares one across many Clients unevenly) still cannot hammer
// the upstream faster than one request per 3 seconds.
type throttledTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func newThrottledTransport(next http.RoundTripper, every float64) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return throttledTransport{
		limiter: rate.NewLimiter(rate.Limit(every), 1),
		next:    next,
	}
}

func (t throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
