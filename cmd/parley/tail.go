package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/schema"
)

func newTailCmd(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		raw    bool
		filter []string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow live pipeline events from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = opts.cfg.API.Addr
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return tailEvents(ctx, cmd.OutOrStdout(), addr, raw, filter)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "server address (default api.addr)")
	f.BoolVar(&raw, "json", false, "print raw JSON events")
	f.StringSliceVarP(&filter, "type", "t", nil, "only show these event types")
	return cmd
}

func tailEvents(ctx context.Context, out io.Writer, addr string, raw bool, filter []string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/v1/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	want := make(map[string]bool, len(filter))
	for _, t := range filter {
		want[t] = true
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var ev schema.RunEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if len(want) > 0 && !want[ev.Type] {
			continue
		}
		if raw {
			fmt.Fprintln(out, string(data))
			continue
		}
		fmt.Fprintln(out, formatEvent(ev))
	}
}

func formatEvent(ev schema.RunEvent) string {
	run := ev.RunID
	if run == "" {
		run = "-"
	}
	line := fmt.Sprintf("%s %-22s %s", ev.Timestamp.Local().Format("15:04:05.000"), ev.Type, run)
	if len(ev.Data) > 0 {
		b, _ := json.Marshal(ev.Data)
		line += " " + string(b)
	}
	return line
}
