package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	localDefaultTimeout   = 90 * time.Second
	localDefaultMaxOutput = 4 << 20
)

// Engine produces a complete response for a request in one shot. Local
// engines have no incremental delivery.
type Engine func(ctx context.Context, req Request) (string, error)

// LocalAdapter implements Adapter for an on-device engine. The engine runs as
// an external command speaking JSON over stdin/stdout, or as an injected
// Engine func. Because the engine yields only full responses, StreamComplete
// synthesizes a stream of exactly one chunk; consumers must not assume more.
type LocalAdapter struct {
	engine  Engine
	name    Name
	model   string
	aliases aliasTable
}

// LocalOptions configures a LocalAdapter.
type LocalOptions struct {
	// Command is the argv of the engine process.
	Command []string
	// Engine overrides Command when set.
	Engine       Engine
	DefaultModel string
	// Timeout bounds one engine run.
	Timeout time.Duration
	// MaxOutputBytes caps engine stdout.
	MaxOutputBytes int64
	Aliases        map[string]string
}

// NewLocalAdapter builds the adapter. Without an engine source it fails fast
// with a ConfigurationError.
func NewLocalAdapter(opts LocalOptions) (*LocalAdapter, error) {
	engine := opts.Engine
	if engine == nil {
		if len(opts.Command) == 0 {
			return nil, &ConfigurationError{Provider: NameLocal, Reason: "no engine command configured"}
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = localDefaultTimeout
		}
		maxOutput := opts.MaxOutputBytes
		if maxOutput <= 0 {
			maxOutput = localDefaultMaxOutput
		}
		engine = commandEngine(opts.Command, timeout, maxOutput)
	}

	model := opts.DefaultModel
	if model == "" {
		model = "on-device"
	}

	return &LocalAdapter{
		engine:  engine,
		name:    NameLocal,
		model:   model,
		aliases: aliasTable{}.merged(opts.Aliases),
	}, nil
}

func (a *LocalAdapter) Name() Name { return a.name }

func (a *LocalAdapter) ResolveModel(model string) string {
	if model == "" {
		return a.model
	}
	return a.aliases.Resolve(model)
}

func (a *LocalAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	req.Model = a.ResolveModel(req.Model)

	content, err := a.engine(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Err: err}
	}
	if content == "" {
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Err: errors.New("engine produced no output")}
	}

	return &Response{Content: content, Model: req.Model}, nil
}

// StreamComplete synthesizes exactly one chunk carrying the full response
// text with the finish reason set, so stream consumers work unchanged against
// a backend with no native incremental delivery.
func (a *LocalAdapter) StreamComplete(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := a.Complete(ctx, req)
		if err != nil {
			ch <- StreamChunk{Err: err}
			return
		}
		ch <- StreamChunk{TextDelta: resp.Content, FinishReason: FinishStop}
	}()
	return ch, nil
}

// ── command engine ───────────────────────────────────────────────────────────

type localWireRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type localWireResponse struct {
	Content string `json:"content"`
}

// commandEngine runs argv with the request as JSON on stdin and reads the
// response from stdout. Output is accepted as {"content": ...} JSON or, for
// simple scripts, as plain text.
func commandEngine(argv []string, timeout time.Duration, maxOutput int64) Engine {
	return func(ctx context.Context, req Request) (string, error) {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		input, err := json.Marshal(localWireRequest{Model: req.Model, Messages: req.Messages})
		if err != nil {
			return "", fmt.Errorf("marshal engine request: %w", err)
		}

		cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
		cmd.Stdin = bytes.NewReader(input)
		var stdout limitedBuffer
		stdout.max = maxOutput
		cmd.Stdout = &stdout
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("engine timed out after %s", timeout)
			}
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return "", fmt.Errorf("engine command failed: %s", msg)
		}

		out := bytes.TrimSpace(stdout.buf.Bytes())
		var payload localWireResponse
		if json.Unmarshal(out, &payload) == nil && payload.Content != "" {
			return payload.Content, nil
		}
		return string(out), nil
	}
}

// limitedBuffer accumulates writes up to max bytes, then rejects further
// output so a runaway engine cannot exhaust memory.
type limitedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.max {
		return 0, fmt.Errorf("engine output exceeds %d bytes", b.max)
	}
	return b.buf.Write(p)
}
