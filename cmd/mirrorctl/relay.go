package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/remote-mirror/backend/internal/client"
	"github.com/remote-mirror/backend/internal/ws"
)

func runView(ctx context.Context, args []string) error {
	var f connectionFlags
	fs := pflag.NewFlagSet("view", pflag.ContinueOnError)
	f.addFlags(fs, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.requireToken(); err != nil {
		return err
	}

	frames := 0
	c := client.New(client.Config{
		BaseURL: f.server,
		Token:   f.token,
		Role:    ws.RoleViewer,
		OnMessage: func(data []byte) {
			msg, err := ws.ParseMessage(data)
			if err != nil {
				log.Warn().Err(err).Msg("unreadable message")
				return
			}
			if msg.Type != ws.MessageTypeScreenUpdate || msg.Metadata == nil {
				log.Debug().Str("type", string(msg.Type)).Msg("message")
				return
			}
			frames++
			log.Info().
				Int("frame", frames).
				Int("width", msg.Metadata.Width).
				Int("height", msg.Metadata.Height).
				Int("density", msg.Metadata.Density).
				Int("bytes", len(msg.ImageData)).
				Msg("screen update")
		},
	})
	defer c.Close()

	return c.Run(ctx)
}

// runInput handles tap, swipe and type. args[0] is the command name.
func runInput(ctx context.Context, args []string) error {
	var f connectionFlags
	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	f.addFlags(fs, true)
	build := inputFlags(args[0], fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if err := f.requireToken(); err != nil {
		return err
	}

	msg, err := build()
	if err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	sent := make(chan error, 1)
	var c *client.Client
	c = client.New(client.Config{
		BaseURL: f.server,
		Token:   f.token,
		Role:    ws.RoleViewer,
		OnConnect: func() {
			sent <- c.Send(msg)
			c.Close()
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		select {
		case err := <-sent:
			return err
		case <-gctx.Done():
			c.Close()
			return errors.New("not connected")
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("sent %s\n", msg.Kind)
	return nil
}

// inputFlags registers the flags of one input command and returns a
// function building its message once the flags are parsed.
func inputFlags(name string, fs *pflag.FlagSet) func() (ws.Message, error) {
	switch name {
	case "tap":
		x := fs.Float64("x", -1, "horizontal position, 0 to 1")
		y := fs.Float64("y", -1, "vertical position, 0 to 1")
		return func() (ws.Message, error) { return ws.Tap(*x, *y), nil }
	case "swipe":
		sx := fs.Float64("start-x", -1, "start horizontal position, 0 to 1")
		sy := fs.Float64("start-y", -1, "start vertical position, 0 to 1")
		ex := fs.Float64("end-x", -1, "end horizontal position, 0 to 1")
		ey := fs.Float64("end-y", -1, "end vertical position, 0 to 1")
		return func() (ws.Message, error) { return ws.Swipe(*sx, *sy, *ex, *ey), nil }
	case "type":
		text := fs.String("text", "", "text to enter")
		return func() (ws.Message, error) { return ws.TypeText(*text), nil }
	}
	return func() (ws.Message, error) { return ws.Message{}, fmt.Errorf("unknown input %q", name) }
}
