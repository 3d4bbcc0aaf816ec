package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/gateway/internal/protocol"
)

type watchOptions struct {
	addr   string
	count  int
	delete bool
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <sessionId>",
		Short: "Join a session and print its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialWatch(opts.addr)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Join(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching session %s on %s\n", args[0], opts.addr)

			if opts.delete {
				if err := client.send(protocol.EventDeleteSession, args[0]); err != nil {
					return err
				}
			}

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)

			done := make(chan error, 1)
			go func() { done <- client.Print(cmd.OutOrStdout(), opts.count) }()

			select {
			case <-interrupt:
				fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted")
				return nil
			case err := <-done:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "ws://localhost:8000/ws", "gateway websocket address")
	cmd.Flags().IntVar(&opts.count, "count", 0, "exit after this many events (0 waits until the connection closes)")
	cmd.Flags().BoolVar(&opts.delete, "delete", false, "request deletion of the session after joining")
	return cmd
}

// watchClient is a realtime observer connection.
type watchClient struct {
	conn *websocket.Conn
}

func dialWatch(addr string) (*watchClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &watchClient{conn: conn}, nil
}

func (c *watchClient) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *watchClient) send(event string, data interface{}) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Join subscribes to sessionID.
func (c *watchClient) Join(sessionID string) error {
	return c.send(protocol.EventJoinSession, sessionID)
}

// Print writes each received event to w until limit events were printed, or
// until the connection closes when limit is 0.
func (c *watchClient) Print(w io.Writer, limit int) error {
	for n := 0; limit == 0 || n < limit; n++ {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			fmt.Fprintf(w, "[invalid] %s\n", data)
			continue
		}

		var pretty interface{}
		formatted := []byte(frame.Data)
		if err := json.Unmarshal(frame.Data, &pretty); err == nil {
			formatted, _ = json.MarshalIndent(pretty, "", "  ")
		}
		fmt.Fprintf(w, "[%s] %s\n", frame.Event, formatted)
	}
	return nil
}
