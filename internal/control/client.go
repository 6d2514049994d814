package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
)

// ErrNoResponders is returned when no reader is listening on the bus.
var ErrNoResponders = errors.New("no reader is listening on the bus")

// Client issues control requests to a running reader.
type Client struct {
	conn    *nats.Conn
	timeout time.Duration
}

func NewClient(conn *nats.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{conn: conn, timeout: timeout}
}

func (c *Client) Submit(ctx context.Context, text, source string) (protocol.ControlReply, error) {
	return c.control(ctx, protocol.SubjectControlSubmit, protocol.SubmitRequest{Text: text, Source: source})
}

func (c *Client) Stop(ctx context.Context) (protocol.ControlReply, error) {
	return c.control(ctx, protocol.SubjectControlStop, nil)
}

func (c *Client) Skip(ctx context.Context) (protocol.ControlReply, error) {
	return c.control(ctx, protocol.SubjectControlSkip, nil)
}

func (c *Client) TogglePause(ctx context.Context) (protocol.ControlReply, error) {
	return c.control(ctx, protocol.SubjectControlPause, nil)
}

func (c *Client) Status(ctx context.Context) (protocol.StatusReport, error) {
	var report protocol.StatusReport
	err := c.request(ctx, protocol.SubjectControlStatus, nil, &report)
	return report, err
}

func (c *Client) History(ctx context.Context, limit int) ([]protocol.UtteranceSummary, error) {
	var reply protocol.HistoryReply
	if err := c.request(ctx, protocol.SubjectControlHistory, protocol.HistoryRequest{Limit: limit}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Utterances, nil
}

func (c *Client) control(ctx context.Context, subject string, body any) (protocol.ControlReply, error) {
	var reply protocol.ControlReply
	if err := c.request(ctx, subject, body, &reply); err != nil {
		return reply, err
	}
	if !reply.OK {
		msg := reply.Error
		if msg == "" {
			msg = "request refused"
		}
		return reply, errors.New(msg)
	}
	return reply, nil
}

func (c *Client) request(ctx context.Context, subject string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s: %w", subject, err)
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return ErrNoResponders
		}
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}
