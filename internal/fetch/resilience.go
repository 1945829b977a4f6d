package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/wind-field-cache/internal/field"
)

// maxBodyBytes bounds how much of a response body is buffered.
const maxBodyBytes = 32 << 20

var (
	errNoNetwork   = errors.New("no network for job")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
	errTooLarge    = errors.New("response body too large")
)

// response is a fully read upstream response.
type response struct {
	status int
	etag   string
	body   []byte
}

// BreakerSettings controls when consecutive upstream failures stop further
// requests. Attempts are minutes or hours apart, so failure counts only reset
// on a success, never on a timer.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive failures that open the breaker
	OpenTimeout time.Duration // time spent open before a single trial request
}

// DefaultBreakerSettings opens after three failures in a row and allows a
// trial request after an hour.
var DefaultBreakerSettings = BreakerSettings{MaxFailures: 3, OpenTimeout: time.Hour}

func newCircuitBreaker(name string, bs BreakerSettings) *gobreaker.CircuitBreaker {
	if bs.MaxFailures == 0 {
		bs.MaxFailures = DefaultBreakerSettings.MaxFailures
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = DefaultBreakerSettings.OpenTimeout
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("fetch: circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
}

// doConditionalRequest performs exactly one request through the circuit
// breaker and reads the whole body before returning. Only 200 and 304 are
// accepted; anything else counts against the breaker. There is no retry here:
// retries are the scheduler's job.
func doConditionalRequest(
	ctx context.Context,
	net field.Network,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (response, error) {
	if net == nil {
		return response{}, fmt.Errorf("%w: %w", field.ErrNetwork, errNoNetwork)
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return response{}, fmt.Errorf("%w: build request: %v", field.ErrNetwork, err)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := net.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotModified:
			return response{status: resp.StatusCode}, nil
		default:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
			return nil, fmt.Errorf("%w: %d (%s)", errUnexpected, resp.StatusCode, http.StatusText(resp.StatusCode))
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if readErr != nil {
			return nil, fmt.Errorf("read body: %w", readErr)
		}
		if len(body) > maxBodyBytes {
			return nil, errTooLarge
		}
		return response{
			status: resp.StatusCode,
			etag:   resp.Header.Get("ETag"),
			body:   body,
		}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return response{}, fmt.Errorf("%w: %w: %v", field.ErrNetwork, errCircuitOpen, err)
		}
		return response{}, fmt.Errorf("%w: %w", field.ErrNetwork, err)
	}

	resp, ok := result.(response)
	if !ok {
		return response{}, fmt.Errorf("%w: unexpected result type from circuit breaker", field.ErrNetwork)
	}
	return resp, nil
}
