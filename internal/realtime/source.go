package realtime

import (
	"context"

	"github.com/dukerupert/crewtasks/internal/websocket"
)

// Channel is an open change stream for one table. Changes is closed when
// the stream ends.
type Channel interface {
	Changes() <-chan websocket.Change
	Close() error
}

// Source opens change channels.
type Source interface {
	Open(ctx context.Context, table string) (Channel, error)
}

// HubSource subscribes to a hub in the same process.
type HubSource struct {
	Hub *websocket.Hub
}

func (s HubSource) Open(_ context.Context, table string) (Channel, error) {
	return s.Hub.Subscribe(table), nil
}

// RemoteSource dials another server's /ws endpoint.
type RemoteSource struct {
	URL   string
	Token string
}

func (s RemoteSource) Open(ctx context.Context, table string) (Channel, error) {
	sub, err := websocket.Dial(ctx, s.URL, s.Token, table)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
