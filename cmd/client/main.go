/*
Package main is a line-oriented terminal client for relaychat.

It connects and performs the handshake, prints every chat line as it arrives, and sends each
line typed on stdin: plain text as a chat message, "/name <new name>" to rename, "/quit" to leave.
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"relaychat/internal/app/client"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "chat server address")
	name := flag.String("name", "", "display name (random if empty)")
	attempts := flag.Uint64("attempts", 3, "connection attempts before giving up")
	verbose := flag.Bool("v", false, "log protocol details to stderr")
	flag.Parse()

	if *verbose {
		logx.InitGlobalLogger(true)
	} else {
		logx.InitWriter(zerolog.ConsoleWriter{Out: os.Stderr}, zerolog.WarnLevel)
	}

	if *name == "" {
		nick, err := randx.UserNickname()
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: Failed to pick a nickname: %v\n", err)
			os.Exit(1)
		}
		*name = nick
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := client.DialRetry(ctx, *addr, *name, *attempts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s as %s (id %d). Type /quit to leave.\n", *addr, *name, conn.ID())

	st := client.NewState(conn.ID(), *name)
	followDone := make(chan error, 1)
	go func() {
		followDone <- conn.Follow(ctx, st, func(line string) {
			fmt.Println(line)
		})
		stop()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			finish(followDone)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}

			in, err := client.ParseInput(conn.ID(), line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}

			switch in.Action {
			case client.ActionQuit:
				return
			case client.ActionSend:
				if err := conn.Send(in.Packet); err != nil {
					fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
					return
				}
			}
		}
	}
}

// finish reports why the connection ended when it was not a clean close.
func finish(followDone <-chan error) {
	select {
	case err := <-followDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			return
		}
		fmt.Println("Disconnected.")
	default:
	}
}
