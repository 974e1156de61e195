// Package driver replays a fixed sequence of bucket mutations and then asks the plot
// endpoint for a chart of the result.
package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// DefaultPause separates consecutive steps so each sample lands at a distinct time.
const DefaultPause = 3 * time.Second

// maxBody caps how much of the plot response is kept.
const maxBody = 64 << 10

// ObjectWriter mutates the driven bucket.
type ObjectWriter interface {
	PutObject(ctx context.Context, bucketName, key string, body []byte, contentType string) error
	DeleteObject(ctx context.Context, bucketName, key string) error
}

// Step is one mutation. A step with Delete set removes Key, otherwise Body is written.
type Step struct {
	Key    string
	Body   []byte
	Delete bool
}

// DefaultSteps grow one object from 19 to 28 bytes, delete it and leave a 2 byte
// object behind.
func DefaultSteps() []Step {
	return []Step{
		{Key: "assignment1.txt", Body: []byte("Empty Assignment 1\n")},
		{Key: "assignment1.txt", Body: []byte("Empty Assignment 2222222222\n")},
		{Key: "assignment1.txt", Delete: true},
		{Key: "assignment2.txt", Body: []byte("33")},
	}
}

// Options configure a Driver.
type Options struct {
	Bucket  string
	PlotAPI string
	Pause   time.Duration
	Steps   []Step
	// PlotRetries bounds the retries of the plot call.
	PlotRetries int
}

// Outcome reports a finished run.
type Outcome struct {
	Status     string `json:"status"`
	Steps      int    `json:"steps"`
	PlotStatus int    `json:"plot_status,omitempty"`
	PlotBody   string `json:"plot_body,omitempty"`
	PlotError  string `json:"plot_error,omitempty"`
}

// retryLogger routes retryablehttp's leveled logging into zerolog.
type retryLogger struct {
	logger zerolog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

type Driver struct {
	objects ObjectWriter
	opts    Options
	http    *retryablehttp.Client
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(objects ObjectWriter, opts Options, logger zerolog.Logger) *Driver {
	if opts.Steps == nil {
		opts.Steps = DefaultSteps()
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.PlotRetries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = retryLogger{logger: logger}

	return &Driver{objects: objects, opts: opts, http: client, logger: logger, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Driver) apply(ctx context.Context, step Step) error {
	if step.Delete {
		if err := d.objects.DeleteObject(ctx, d.opts.Bucket, step.Key); err != nil {
			return err
		}
		d.logger.Info().Str("key", step.Key).Msg("Deleted object")
		return nil
	}
	if err := d.objects.PutObject(ctx, d.opts.Bucket, step.Key, step.Body, "text/plain"); err != nil {
		return err
	}
	d.logger.Info().Str("key", step.Key).Int("bytes", len(step.Body)).Msg("Put object")
	return nil
}

// Run applies every step, pausing after each, then calls the plot endpoint. A failing
// step aborts the run; a failing plot call is only reported.
func (d *Driver) Run(ctx context.Context) (*Outcome, error) {
	for i, step := range d.opts.Steps {
		if err := d.apply(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d on %s: %w", i+1, step.Key, err)
		}
		if err := d.sleep(ctx, d.opts.Pause); err != nil {
			return nil, err
		}
	}

	out := &Outcome{Status: "done", Steps: len(d.opts.Steps)}
	if d.opts.PlotAPI == "" {
		d.logger.Warn().Msg("No plot API configured, skipping plot call")
		return out, nil
	}

	status, body, err := d.callPlot(ctx)
	if err != nil {
		d.logger.Error().Err(err).Str("url", d.opts.PlotAPI).Msg("Plot API call error")
		out.PlotError = err.Error()
		return out, nil
	}
	d.logger.Info().Int("status", status).Str("body", body).Msg("Plot API response")
	out.PlotStatus, out.PlotBody = status, body
	return out, nil
}

func (d *Driver) callPlot(ctx context.Context) (int, string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, d.opts.PlotAPI, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to build plot request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read plot response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, string(data), fmt.Errorf("plot API returned %s", resp.Status)
	}
	return resp.StatusCode, string(data), nil
}
