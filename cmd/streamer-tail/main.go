package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/casualjim/streamer"
	"github.com/casualjim/streamer/internal/logging"
	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/casualjim/streamer/transport/ws"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/k0kubun/pp/v3"
	"github.com/tidwall/gjson"
)

type options struct {
	url        string
	stream     string
	event      string
	user       string
	collection bool
	dump       bool
}

func main() {
	var o options
	flag.StringVar(&o.url, "url", "ws://localhost:3000/websocket", "websocket endpoint of streamerd")
	flag.StringVar(&o.stream, "stream", "notifications", "stream to subscribe to")
	flag.StringVar(&o.event, "event", "", "event name to follow (required)")
	flag.StringVar(&o.user, "user", "", "user id sent in the X-User-Id header")
	flag.BoolVar(&o.collection, "collection", false, "ask for the collection compatibility record")
	flag.BoolVar(&o.dump, "dump", false, "pretty print every frame")
	flag.Parse()

	logging.Install(os.Stderr, "console", slog.LevelWarn)

	if o.event == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mainE(ctx, o, os.Stdout); err != nil {
		slog.Error("streamer-tail failed", slogx.Error(err))
		os.Exit(1)
	}
}

func mainE(ctx context.Context, o options, out io.Writer) error {
	header := http.Header{}
	if o.user != "" {
		header.Set("X-User-Id", o.user)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := ws.Dial(dialCtx, o.url, header)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", o.url, err)
	}
	defer client.Close()

	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()

	params := []any{o.event}
	if o.collection {
		params = append(params, true)
	}
	if _, err := client.Subscribe(streamer.SubscriptionPrefix+o.stream, params...); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	p := newPrinter(out, o.dump)
	for {
		frame, err := client.Next()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if done := p.print(frame); done {
			return errors.New("subscription ended by server")
		}
	}
}

type printer struct {
	out   io.Writer
	dump  bool
	pp    *pp.PrettyPrinter
	event *color.Color
	muted *color.Color
	fail  *color.Color
}

func newPrinter(out io.Writer, dump bool) *printer {
	pretty := pp.New()
	pretty.SetOutput(out)
	return &printer{
		out:   out,
		dump:  dump,
		pp:    pretty,
		event: color.New(color.FgCyan, color.Bold),
		muted: color.New(color.Faint),
		fail:  color.New(color.FgRed),
	}
}

// print writes one frame and reports whether the subscription has ended.
func (p *printer) print(frame ws.Frame) bool {
	if p.dump {
		p.pp.Println(gjson.ParseBytes(frame.Raw).Value())
	}

	switch frame.Msg {
	case ws.MsgReady:
		p.muted.Fprintln(p.out, "subscribed")
	case ws.MsgAdded:
		p.muted.Fprintf(p.out, "following %s\n", frame.Fields.Get("eventName").String())
	case ws.MsgChanged:
		payload, err := frame.Payload()
		if err != nil {
			p.fail.Fprintf(p.out, "bad payload: %v\n", err)
			return false
		}
		p.event.Fprintf(p.out, "%s ", payload["eventName"])
		if p.dump {
			p.pp.Println(payload["args"])
		} else {
			fmt.Fprintln(p.out, frame.Fields.Get("args").Raw)
		}
	case ws.MsgNoSub:
		if reason := frame.Error.Get("reason"); reason.Exists() {
			p.fail.Fprintf(p.out, "subscription failed: %s\n", reason.String())
		} else {
			p.muted.Fprintln(p.out, "subscription stopped")
		}
		return true
	case ws.MsgError:
		p.fail.Fprintln(p.out, string(frame.Raw))
	}
	return false
}
