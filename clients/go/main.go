// Renex CLI - command line client for renex direct messages
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/renex-id/renex/clients/go/renex"
	"github.com/renex-id/renex/clients/go/renex/thread"
	"github.com/renex-id/renex/clients/go/tui"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("RENEX_URL")
	if baseURL == "" {
		baseURL = renex.DefaultBaseURL
	}

	client := renex.NewClient(baseURL)
	cmd := os.Args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: renex login <handle> <token>")
			os.Exit(1)
		}
		exitOnError(client.Login(os.Args[2], os.Args[3]))
		fmt.Printf("Logged in as: %s\n", client.Handle())

	case "logout":
		exitOnError(client.Logout())
		fmt.Println("Logged out")

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: renex read <handle>")
			os.Exit(1)
		}
		requireSession(client)
		msgs, err := client.FetchSince(ctx, os.Args[2])
		exitOnError(err)
		for _, msg := range msgs {
			ts := "--"
			if msg.Timestamp > 0 {
				ts = time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			}
			fmt.Printf("[%s] %s: %s\n", ts, msg.From, msg.Text)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: renex send <handle> <message>")
			os.Exit(1)
		}
		requireSession(client)
		text, err := renex.ValidateText(strings.Join(os.Args[3:], " "))
		exitOnError(err)
		out, err := client.Submit(ctx, os.Args[2], text)
		exitOnError(err)
		if out.RateLimited {
			fmt.Fprintf(os.Stderr, "Rate limited: %s\n", out.Reason)
			os.Exit(1)
		}
		fmt.Printf("Sent: %s\n", out.Message.ID)

	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: renex chat <handle>")
			os.Exit(1)
		}
		requireSession(client)
		exitOnError(chat(ctx, client, os.Args[2]))

	case "keys":
		kp, created, err := renex.LoadOrGenerateKeyPair(client.ConfigDir)
		exitOnError(err)
		if created {
			fmt.Println("Generated new key pair")
		}
		requireSession(client)
		exitOnError(client.PublishKey(ctx, kp.PublicKeyBase64()))
		fmt.Printf("Published key: %s\n", kp.PublicKeyBase64())

	case "key":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: renex key <handle>")
			os.Exit(1)
		}
		requireSession(client)
		resp, err := client.GetKey(ctx, os.Args[2])
		exitOnError(err)
		printJSON(resp)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// chat opens an interactive thread with counterpart. The poll loop and the
// terminal program run side by side; whichever ends first stops the other.
func chat(ctx context.Context, client *renex.Client, counterpart string) error {
	logger := zerolog.Nop()
	if path := os.Getenv("RENEX_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		logger = zerolog.New(f).With().Timestamp().Logger()
	}

	screen := tui.NewScreen()
	session, err := thread.New(client, screen, client.Handle(), counterpart, thread.WithLogger(logger))
	if err != nil {
		return err
	}
	defer session.Close()

	g, ctx := errgroup.WithContext(ctx)
	program := tea.NewProgram(
		tui.NewModel(ctx, session, screen),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)

	g.Go(func() error {
		err := session.Run(ctx)
		program.Send(tui.EndMsg{Err: err})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	var final tea.Model
	g.Go(func() error {
		defer session.Close()
		var err error
		final, err = program.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return sessionError(err)
	}
	if m, ok := final.(tui.Model); ok && m.Err() != nil {
		return sessionError(m.Err())
	}
	return nil
}

func sessionError(err error) error {
	if renex.IsAuth(err) {
		return fmt.Errorf("session expired, run `renex login`: %w", err)
	}
	return err
}

func requireSession(client *renex.Client) {
	if !client.Active() {
		fmt.Fprintln(os.Stderr, "Error: no active session, run `renex login <handle> <token>`")
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Renex CLI - direct messages

Usage: renex <command> [options]

Commands:
  login <handle> <token>  Store a session token
  logout                  Remove the stored session
  read <handle>           Print the thread with a user
  send <handle> <text>    Send a message
  chat <handle>           Open an interactive thread
  keys                    Generate (once) and publish your public key
  key <handle>            Show a user's published key
  health                  Check server health

Environment:
  RENEX_URL      Server URL (default: https://api.renex.id)
  RENEX_CONFIG   Config directory (default: ~/.renex)
  RENEX_LOG      Append chat session logs to this file`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
