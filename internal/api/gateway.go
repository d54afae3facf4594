package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/kiro-gateway/kiro-gateway/internal/credpool"
	"github.com/kiro-gateway/kiro-gateway/internal/eventstream"
	"github.com/kiro-gateway/kiro-gateway/internal/upstreamclient"
)

// Gateway holds the wiring shared by every handler: the credential pool and
// the upstream client. One Gateway serves the whole process; it has no
// per-request mutable state of its own (§5's "no single global lock" —
// the pool is the only shared resource and manages its own locking).
type Gateway struct {
	Pool   *credpool.Pool
	Client *upstreamclient.Client
}

// New constructs a Gateway.
func New(pool *credpool.Pool, client *upstreamclient.Client) *Gateway {
	return &Gateway{Pool: pool, Client: client}
}

// upstreamMessages selects a credential, sends the converted request body
// to the upstream, and decodes the full binary EventStream response into
// Messages. Used by the non-streaming handlers; the streaming handlers
// instead use upstreamStream for incremental decode.
func (g *Gateway) upstreamMessages(ctx context.Context, kiroBody []byte) ([]eventstream.Message, error) {
	sel, err := g.Pool.Select(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: credential selection failed: %w", err)
	}

	resp, err := g.Client.Send(ctx, sel.Token, kiroBody)
	if err != nil {
		return nil, fmt.Errorf("gateway: upstream call failed: %w", err)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("gateway: upstream exhausted origin fallback with status %d", resp.StatusCode)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &upstreamStatusError{status: resp.StatusCode, body: string(body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: reading upstream body: %w", err)
	}

	dec := eventstream.NewDecoder(64)
	return dec.Feed(raw)
}

// upstreamStream selects a credential, sends the request, and returns the
// live response body plus its status for the streaming handler to decode
// incrementally (so a mid-stream exception can stop reading early, per
// §4.G's S3 scenario).
func (g *Gateway) upstreamStream(ctx context.Context, kiroBody []byte) (*upstreamclient.Response, error) {
	sel, err := g.Pool.Select(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: credential selection failed: %w", err)
	}
	resp, err := g.Client.Send(ctx, sel.Token, kiroBody)
	if err != nil {
		return nil, fmt.Errorf("gateway: upstream call failed: %w", err)
	}
	return resp, nil
}

type upstreamStatusError struct {
	status int
	body   string
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

func statusOf(err error) int {
	if se, ok := err.(*upstreamStatusError); ok {
		return se.status
	}
	return http.StatusBadGateway
}

func bodyOf(err error) string {
	if se, ok := err.(*upstreamStatusError); ok {
		return se.body
	}
	return err.Error()
}
