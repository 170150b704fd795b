// Package apiclient is the HTTP client of the ShopWise API. Every failure is
// normalized into the apierr taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/pkg/connectivity"
	"github.com/xenking/shopwise/pkg/httptransport"
)

const maxBodySize = 10 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Transport is the base RoundTripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
	// Middlewares run inside the built-in ones, closest to the network.
	Middlewares []httptransport.Middleware
	// Monitor decides whether a transport failure means the client is
	// offline. Nil treats the client as always online.
	Monitor *connectivity.Monitor
	Logger  *zap.Logger

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client calls the ShopWise API.
type Client struct {
	base    *url.URL
	http    *http.Client
	monitor *connectivity.Monitor
	lg      *zap.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	var otelOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}
	mws := append([]httptransport.Middleware{
		httptransport.Recovery(),
		httptransport.RequestID(),
		httptransport.LogRequests(),
	}, cfg.Middlewares...)
	rt := otelhttp.NewTransport(httptransport.Wrap(cfg.Transport, mws...), otelOpts...)

	return &Client{
		base:    base,
		http:    &http.Client{Transport: rt, Timeout: cfg.Timeout},
		monitor: cfg.Monitor,
		lg:      lg,
	}, nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   []byte
	// contentType defaults to application/json when body is set.
	contentType string
	// token is sent as a bearer credential. A 401 on such a request is an
	// AuthExpired failure.
	token string
	// fixed, when set, replaces every non-connectivity failure message.
	fixed string
	// accept lists non-2xx statuses handled by the caller through decode.
	accept []int
}

// do performs req and decodes a successful body with decode. decode may be nil.
func (c *Client) do(ctx context.Context, req request, decode func(status int, d *jx.Decoder) error) error {
	if !c.monitor.Online() {
		return apierr.Connectivity(errors.New("offline"))
	}

	ref := &url.URL{Path: strings.TrimLeft(req.path, "/")}
	if len(req.query) > 0 {
		ref.RawQuery = req.query.Encode()
	}
	u := c.base.ResolveReference(ref)

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return apierr.Unknown(req.fixed, errors.Wrap(err, "create request"))
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		ct := req.contentType
		if ct == "" {
			ct = "application/json"
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, req, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return c.transportError(ctx, req, err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, s := range req.accept {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return c.statusError(ctx, req, resp.StatusCode, data)
	}
	if decode == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := decode(resp.StatusCode, jx.DecodeBytes(data)); err != nil {
		zctx.From(ctx).Debug("Decode response", zap.String("path", req.path), zap.Error(err))
		return apierr.Unknown(req.fixed, errors.Wrapf(err, "decode %s", req.path))
	}
	return nil
}

// transportError classifies a failure without a response. A cancelled
// context is returned as is: the caller abandoned the request.
func (c *Client) transportError(ctx context.Context, req request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, req.path)
	}
	if probeErr := c.monitor.Probe(context.WithoutCancel(ctx)); probeErr != nil {
		c.lg.Debug("Offline", zap.Error(probeErr))
		return apierr.Connectivity(err)
	}
	return apierr.Unknown(req.fixed, err)
}

func (c *Client) statusError(ctx context.Context, req request, status int, data []byte) error {
	body, structured := parseErrorBody(data)
	msg := ""
	if structured {
		msg = body.text()
	}
	zctx.From(ctx).Debug("API error",
		zap.String("path", req.path),
		zap.Int("status", status),
		zap.String("message", msg),
	)

	if status == http.StatusUnauthorized && req.token != "" {
		return apierr.AuthExpired(msg)
	}
	if req.fixed != "" {
		return apierr.Unknown(req.fixed, errors.Errorf("status %d", status))
	}
	if msg == "" {
		return apierr.Unknown("", errors.Errorf("status %d", status))
	}
	return apierr.API(status, msg, body.Fields)
}
