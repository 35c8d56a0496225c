package agent

import (
	"context"
	"errors"
	"net"

	"github.com/verbatik/agent-stream/internal/apperr"
)

// classify maps transport-level failures onto the upstream error kinds so the
// orchestrator can store a meaningful failure category.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindUpstreamTimeout, msg, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.KindUpstreamTimeout, msg, err)
	}

	return apperr.Wrap(apperr.KindUpstreamUnavailable, msg, err)
}
