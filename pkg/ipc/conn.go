package ipc

import (
	"context"
	"errors"
	"io"
	"net"
)

// Handler processes one authenticated Request and returns the Response to
// send back. A Handler may also signal that after this response is
// written the server should begin orderly shutdown (Operation Shutdown).
type Handler func(ctx context.Context, req Request) (resp Response, shutdown bool)

// TokenChecker compares a presented auth token against the daemon's.
type TokenChecker func(token string) bool

// ServeConn implements §4.1/§4.2's per-connection protocol: the first frame
// must be Auth, checked against check; every frame after that is a normal
// request dispatched to handler. It returns when the connection is closed,
// a framing error occurs, or handler signals shutdown.
//
// Subsequent Auth operations on an already-authenticated connection are
// rejected with an error Response but do not close the connection — only
// a transport-level error or a Shutdown response ends the loop.
func ServeConn(ctx context.Context, conn net.Conn, check TokenChecker, handler Handler) error {
	defer conn.Close()

	req, err := ReadRequest(conn)
	if err != nil {
		return err
	}
	if req.Op.Type != OpAuth {
		_ = WriteResponse(conn, ErrResponse(req.ID, "First message must be Auth"))
		return errors.New("ipc: first message must be Auth")
	}
	var auth AuthRequest
	if err := req.Op.Decode(&auth); err != nil {
		_ = WriteResponse(conn, ErrResponse(req.ID, "invalid Auth payload"))
		return err
	}
	if !check(auth.Token) {
		_ = WriteResponse(conn, ErrResponse(req.ID, "authentication failed"))
		return errors.New("ipc: authentication failed")
	}
	if err := WriteResponse(conn, OKResponse(req.ID, nil)); err != nil {
		return err
	}

	for {
		req, err := ReadRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if req.Op.Type == OpAuth {
			if err := WriteResponse(conn, ErrResponse(req.ID, "already authenticated")); err != nil {
				return err
			}
			continue
		}

		resp, shutdown := handler(ctx, req)
		if err := WriteResponse(conn, resp); err != nil {
			return err
		}
		if shutdown {
			return nil
		}
	}
}
