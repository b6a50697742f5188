package websocket

import (
	"context"
	"encoding/json"
)

// SendJSON writes the JSON encoding of v as a text message.
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(ctx, TextMessage, data)
}

// ReceiveJSON reads the next message and stores its JSON decoding in the
// value pointed to by v.
func (c *Conn) ReceiveJSON(ctx context.Context, v any) error {
	_, data, err := c.Receive(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
