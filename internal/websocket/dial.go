package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/crewtasks/internal/apperr"
)

// RemoteSubscription receives changes from another server's hub.
type RemoteSubscription struct {
	conn      *ws.Conn
	changes   chan Change
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the hub endpoint at rawURL (ws:// or wss://) and
// subscribes to table. The token, when set, is sent as a bearer token.
func Dial(ctx context.Context, rawURL, token, table string) (*RemoteSubscription, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse hub url: %v", apperr.ErrValidation, err)
	}
	if table != "" {
		q := u.Query()
		q.Set("table", table)
		u.RawQuery = q.Encode()
	}

	opts := &ws.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := ws.Dial(ctx, u.String(), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", apperr.ErrNetwork, u.Redacted(), err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	rs := &RemoteSubscription{
		conn:    conn,
		changes: make(chan Change, sendBufferSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go rs.readLoop(readCtx)
	return rs, nil
}

// Changes is closed when the connection ends or Close is called.
func (rs *RemoteSubscription) Changes() <-chan Change {
	return rs.changes
}

// Close ends the subscription and waits for the read loop. Safe to call
// more than once.
func (rs *RemoteSubscription) Close() error {
	var err error
	rs.closeOnce.Do(func() {
		err = rs.conn.Close(ws.StatusNormalClosure, "")
		rs.cancel()
		<-rs.done
	})
	return err
}

func (rs *RemoteSubscription) readLoop(ctx context.Context) {
	defer close(rs.done)
	defer close(rs.changes)

	for {
		_, data, err := rs.conn.Read(ctx)
		if err != nil {
			return
		}
		var c Change
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		select {
		case rs.changes <- c:
		case <-ctx.Done():
			return
		}
	}
}
