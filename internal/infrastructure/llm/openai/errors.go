package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ersonp/storyforge/internal/domain/errs"
)

// Classify maps a transport or API failure onto the domain error taxonomy.
// model is reported when the engine says it does not have it.
func Classify(service, model string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Timeout(service, timeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return errs.Timeout(service, timeout, err)
	case isConnectionFailure(err):
		return errs.Unavailable(service, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusNotFound || mentionsNotFound(apiErr.Message) {
			return errs.ModelNotFound(service, model, err)
		}
		return errs.Generation(service, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusNotFound {
			return errs.ModelNotFound(service, model, err)
		}
		if reqErr.HTTPStatusCode >= http.StatusInternalServerError {
			return errs.Unavailable(service, err)
		}
	}

	return errs.Generation(service, "request failed", err)
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func mentionsNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found")
}
