package client

import (
	"context"
	"net"
	"testing"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon serves one net.Conn end with a caller-supplied handler, the way
// pkg/server.Server.serveConn would, but narrowed to exactly the operations
// a given test cares about — exercising Client/Call's framing and error-kind
// mapping without standing up a full Server.
func fakeDaemon(t *testing.T, conn net.Conn, handler ipc.Handler) {
	t.Helper()
	go func() {
		_ = ipc.ServeConn(context.Background(), conn, func(string) bool { return true }, handler)
	}()
}

func pipeClient(t *testing.T, handler ipc.Handler) *Client {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	fakeDaemon(t, serverConn, handler)

	c := &Client{conn: clientConn}
	_, err := c.Call(ipc.NewAuth("any-token"))
	require.NoError(t, err)
	return c
}

func echoPingHandler(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
	switch req.Op.Type {
	case ipc.OpAuth:
		return ipc.OKResponse(req.ID, nil), false
	case ipc.OpPing:
		return ipc.OKResponse(req.ID, ipc.PingResponse{Version: "test", Status: "running"}), false
	default:
		return ipc.ErrResponseKind(req.ID, string(granaryerr.UserInput), "unsupported in this fake"), false
	}
}

func TestClientCallRoundTripsPing(t *testing.T) {
	c := pipeClient(t, echoPingHandler)
	defer c.Close()

	ping, err := c.Ping()
	require.NoError(t, err)
	assert.Equal(t, "test", ping.Version)
	assert.Equal(t, "running", ping.Status)
}

func TestClientCallMapsErrorKind(t *testing.T) {
	handler := func(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
		if req.Op.Type == ipc.OpAuth {
			return ipc.OKResponse(req.ID, nil), false
		}
		return ipc.ErrResponseKind(req.ID, string(granaryerr.NotFound), "worker missing"), false
	}
	c := pipeClient(t, handler)
	defer c.Close()

	_, err := c.GetWorker("missing")
	require.Error(t, err)
	assert.Equal(t, granaryerr.NotFound, granaryerr.KindOf(err))
}

func TestClientCallDefaultsToInternalKindWhenUnset(t *testing.T) {
	handler := func(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
		if req.Op.Type == ipc.OpAuth {
			return ipc.OKResponse(req.ID, nil), false
		}
		return ipc.ErrResponse(req.ID, "unkinded failure"), false
	}
	c := pipeClient(t, handler)
	defer c.Close()

	_, err := c.Ping()
	require.Error(t, err)
	assert.Equal(t, granaryerr.Internal, granaryerr.KindOf(err))
}

func TestClientRequestIDsIncreaseMonotonically(t *testing.T) {
	var seen []uint64
	handler := func(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
		if req.Op.Type != ipc.OpAuth {
			seen = append(seen, req.ID)
		}
		return ipc.OKResponse(req.ID, nil), false
	}
	c := pipeClient(t, handler)
	defer c.Close()

	_, err := c.Call(ipc.NewPing())
	require.NoError(t, err)
	_, err = c.Call(ipc.NewPing())
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Less(t, seen[0], seen[1])
}

func TestClientShutdown(t *testing.T) {
	var gotShutdown bool
	handler := func(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
		if req.Op.Type == ipc.OpAuth {
			return ipc.OKResponse(req.ID, nil), false
		}
		gotShutdown = req.Op.Type == ipc.OpShutdown
		return ipc.OKResponse(req.ID, nil), true
	}
	c := pipeClient(t, handler)
	defer c.Close()

	require.NoError(t, c.Shutdown())
	assert.True(t, gotShutdown)
}

func TestClientPublishEventReturnsID(t *testing.T) {
	handler := func(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
		if req.Op.Type == ipc.OpAuth {
			return ipc.OKResponse(req.ID, nil), false
		}
		return ipc.OKResponse(req.ID, ipc.PublishEventResponse{ID: 42}), false
	}
	c := pipeClient(t, handler)
	defer c.Close()

	id, err := c.PublishEvent(ipc.PublishEventRequest{EventType: "deploy", Payload: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}
