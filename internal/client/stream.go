package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// Stream is an open subscription to the broker's state feed.
type Stream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Stream opens the state feed. The first snapshot is the broker's current
// state.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	u := c.baseURL + "/state/stream"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("dial state stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next snapshot.
func (s *Stream) Next() (models.RemoteState, error) {
	var st models.RemoteState
	if err := s.conn.ReadJSON(&st); err != nil {
		if websocket.IsCloseError(err, models.CloseFellBehind) {
			return st, ErrFellBehind
		}
		return st, err
	}
	return st, nil
}

// Close ends the subscription. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Watch delivers snapshots to fn until ctx is cancelled or the stream fails.
// A subscription that fell behind is reopened, so fn resumes from the
// current snapshot.
func (c *Client) Watch(ctx context.Context, fn func(models.RemoteState)) error {
	for {
		s, err := c.Stream(ctx)
		if err != nil {
			return err
		}

		stop := context.AfterFunc(ctx, func() { s.Close() })
		err = s.drain(fn)
		stop()
		s.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrFellBehind) {
			return err
		}
	}
}

func (s *Stream) drain(fn func(models.RemoteState)) error {
	for {
		st, err := s.Next()
		if err != nil {
			return err
		}
		fn(st)
	}
}
