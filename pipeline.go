package authsession

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// maxPipelineResends bounds resends requested by response hooks.
const maxPipelineResends = 3

// RequestHook runs before every send, including resends. It may mutate request
// headers; a non-nil error short-circuits the send and is returned to the caller.
type RequestHook func(req *http.Request) error

// ResponseHook runs after a response is received, in order. Returning
// resend=true stops the remaining hooks and submits the request again (the
// request hooks run again first). A non-nil error discards the response and is
// returned to the caller.
type ResponseHook func(req *http.Request, resp *http.Response) (resend bool, err error)

// Pipeline sends requests through ordered pre-send and post-receive hooks.
type Pipeline struct {
	httpClient *http.Client
	before     []RequestHook
	after      []ResponseHook
	telemetry  TelemetryHooks
}

// NewPipeline builds a pipeline. httpClient defaults to http.DefaultClient.
func NewPipeline(httpClient *http.Client, before []RequestHook, after []ResponseHook, telemetry TelemetryHooks) *Pipeline {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Pipeline{
		httpClient: httpClient,
		before:     append([]RequestHook(nil), before...),
		after:      append([]ResponseHook(nil), after...),
		telemetry:  telemetry,
	}
}

type sendStateKey struct{}

// sendState is shared by every resend of one logical request.
type sendState struct {
	// credentialed is set when the latest send carried session credentials;
	// sentAuth is the Authorization value it carried.
	credentialed        bool
	sentAuth            string
	unauthorizedRetried bool
}

func sendStateFrom(req *http.Request) *sendState {
	st, _ := req.Context().Value(sendStateKey{}).(*sendState)
	return st
}

// Do sends req. The returned response may carry any status; callers decide
// how to treat status >= 400. Failures without a response are TransportError,
// except caller cancellation, which returns the context error.
func (p *Pipeline) Do(req *http.Request) (*http.Response, error) {
	if sendStateFrom(req) == nil {
		req = req.WithContext(context.WithValue(req.Context(), sendStateKey{}, &sendState{}))
	}
	for resends := 0; ; resends++ {
		for _, hook := range p.before {
			if err := hook(req); err != nil {
				return nil, err
			}
		}
		resp, err := p.roundTrip(req)
		if err != nil {
			return nil, err
		}
		resend := false
		for _, hook := range p.after {
			again, err := hook(req, resp)
			if err != nil {
				discard(resp)
				return nil, err
			}
			if again {
				resend = true
				break
			}
		}
		if !resend || resends >= maxPipelineResends {
			return resp, nil
		}
		discard(resp)
		next, err := rewind(req)
		if err != nil {
			return nil, err
		}
		req = next
	}
}

func (p *Pipeline) roundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if p.telemetry.OnHTTPRequest != nil {
		p.telemetry.OnHTTPRequest(ctx, req)
	}
	p.telemetry.log(ctx, LogLevelDebug, "http_request", map[string]any{
		"method": req.Method,
		"url":    req.URL.String(),
	})
	start := time.Now()
	resp, err := p.httpClient.Do(req)
	latency := time.Since(start)
	if p.telemetry.OnHTTPResponse != nil {
		p.telemetry.OnHTTPResponse(ctx, req, resp, err, latency)
	}
	p.telemetry.metric(ctx, MetricHistogram, MetricHTTPLatency, float64(latency.Milliseconds()), map[string]string{
		"path": req.URL.Path,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyTransportError(err, "request failed")
	}
	return resp, nil
}

// rewind clones req with a fresh body so it can be submitted again.
func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("authsession: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	next.Body = body
	return next, nil
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	//nolint:errcheck // best-effort drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
