package fetch

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/i474232898/wind-field-cache/internal/field"
)

// TokenKey is the state key holding the last ETag seen for the field.
const TokenKey = "etag"

// Job performs conditional fetches of the wind field and publishes the
// processed result.
type Job struct {
	url           string
	clientVersion string

	processor field.Processor
	publisher field.Publisher
	state     field.StateStore
	circuit   *gobreaker.CircuitBreaker
}

// NewJob creates a fetch job for the resource at url.
func NewJob(url, clientVersion string, proc field.Processor, pub field.Publisher, state field.StateStore, breaker BreakerSettings) *Job {
	return &Job{
		url:           url,
		clientVersion: clientVersion,
		processor:     proc,
		publisher:     pub,
		state:         state,
		circuit:       newCircuitBreaker("wind_field", breaker),
	}
}

// UserAgent returns the client identifier sent with requests for kind.
func (j *Job) UserAgent(kind field.JobKind) string {
	return fmt.Sprintf("WindFieldCache/%s (job:%s) Go-http-client", j.clientVersion, kind)
}

// Attempt runs a single fetch over net. The network read completes before the
// cache is touched, and the revision token is only replaced after a
// successful publish. Cancelling ctx abandons the attempt without publishing.
func (j *Job) Attempt(ctx context.Context, net field.Network, kind field.JobKind) field.Outcome {
	id := uuid.NewString()
	log.Printf("fetch[%s]: checking for wind field update (job: %s)", id, kind)

	token, hasToken, err := j.state.Get(TokenKey)
	if err != nil {
		log.Printf("fetch[%s]: failed to read revision token, fetching unconditionally: %v", id, err)
		hasToken = false
	}

	resp, err := doConditionalRequest(ctx, net, j.circuit, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", j.UserAgent(kind))
		if hasToken && token != "" {
			req.Header.Set("If-None-Match", token)
		}
		return req, nil
	})
	if err != nil {
		return j.failed(id, err)
	}

	if resp.status == http.StatusNotModified {
		log.Printf("fetch[%s]: wind field unchanged (etag %s)", id, token)
		return field.Outcome{Status: field.OutcomeUnchanged}
	}

	log.Printf("fetch[%s]: processing updated wind field (%d bytes, etag %q)", id, len(resp.body), resp.etag)
	processed, err := j.processor.Process(resp.body)
	if err != nil {
		return j.failed(id, err)
	}

	version, err := j.publisher.Publish(processed.Encoded, processed.Raster)
	if err != nil {
		return j.failed(id, err)
	}

	j.saveToken(id, resp.etag)

	log.Printf("fetch[%s]: successfully updated wind field to version %d", id, version)
	return field.Outcome{Status: field.OutcomeUpdated, Version: version}
}

// saveToken overwrites the stored token, or clears it when the response had
// none so a token for older content is never sent again.
func (j *Job) saveToken(id, etag string) {
	if etag == "" {
		log.Printf("fetch[%s]: no etag in wind field response, next update may re-download unnecessarily", id)
		if err := j.state.Delete(TokenKey); err != nil {
			log.Printf("fetch[%s]: failed to clear revision token: %v", id, err)
		}
		return
	}
	if err := j.state.Put(TokenKey, etag); err != nil {
		log.Printf("fetch[%s]: failed to save revision token: %v", id, err)
		if err := j.state.Delete(TokenKey); err != nil {
			log.Printf("fetch[%s]: failed to clear stale revision token: %v", id, err)
		}
	}
}

func (j *Job) failed(id string, err error) field.Outcome {
	log.Printf("fetch[%s]: failed to check for wind field updates: %v", id, err)
	return field.Outcome{Status: field.OutcomeFailed, Err: err}
}
