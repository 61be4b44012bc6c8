package engine

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stratdeck/internal/core"
)

// Watch subscribes to the engine's state stream. Each message is a full
// fleet snapshot, the same projection as StratsExtended. The returned
// channel closes when the stream ends or ctx is cancelled; the caller
// re-subscribes if it still wants updates.
func (c *Client) Watch(ctx context.Context) (<-chan []core.Strategy, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrEngineUnavailable, err)
	}

	out := make(chan []core.Strategy)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("state stream closed", zap.Error(err))
				}
				return
			}
			var wire []wireStrategy
			if err := json.Unmarshal(msg, &wire); err != nil {
				c.log.Warn("discarding malformed state snapshot", zap.Error(err))
				continue
			}
			snapshot := make([]core.Strategy, len(wire))
			for i, s := range wire {
				snapshot[i] = s.toCore()
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
