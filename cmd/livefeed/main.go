package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/livefeed/livefeed-go/internal/config"
	"github.com/livefeed/livefeed-go/internal/engine"
	"github.com/livefeed/livefeed-go/internal/feed"
	"github.com/livefeed/livefeed-go/internal/notify"
	"github.com/livefeed/livefeed-go/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	args, showVerbose, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Printf("livefeed v%s\n", version.RichVersion())
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := zap.NewNop()
	if cfg.Debug || showVerbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
	}
	defer logger.Sync()

	if cfg.Debug {
		log.Printf("Config: ServerURL=%s, HomeDir=%s", cfg.ServerURL, cfg.HomeDir)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithListener(&printer{}),
	}
	if cfg.PushoverToken != "" && cfg.PushoverUserKey != "" {
		forwarder, err := notify.NewPushover(notify.PushoverConfig{
			Token:   cfg.PushoverToken,
			UserKey: cfg.PushoverUserKey,
		})
		if err != nil {
			return fmt.Errorf("failed to configure pushover: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithForwarder(forwarder))
	}
	eng := engine.New(cfg, engineOpts...)

	if len(args) > 0 {
		switch args[0] {
		case "ask":
			return askCommand(eng, strings.Join(args[1:], " "))
		case "tasks":
			return tasksCommand(eng)
		}
	}

	if err := eng.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Stop()

	log.Printf("Server: %s", cfg.ServerURL)
	log.Println("Streaming live updates. Type a message and press Enter to send, Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lineCh := readLines(os.Stdin)
	for {
		select {
		case sig := <-sigCh:
			log.Printf("Received %v, shutting down", sig)
			return nil
		case line, ok := <-lineCh:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := eng.SendMessage(ctx, line); err != nil {
				log.Printf("Send failed: %v", err)
			}
			cancel()
		}
	}
}

func askCommand(eng *engine.Engine, question string) error {
	if question == "" {
		return fmt.Errorf("usage: livefeed ask <question>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	answer, err := eng.Ask(ctx, question)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	fmt.Println(answer)
	return nil
}

func tasksCommand(eng *engine.Engine) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tasks, err := eng.AssignedTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No assigned tasks.")
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("%s  [%s]  %s\n", t.ID, t.Status, t.Title)
	}
	return nil
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// printer renders engine callbacks to stdout.
type printer struct {
	lastUnread atomic.Int64
}

func (p *printer) OnConnected() {
	log.Println("Connected.")
}

func (p *printer) OnDisconnected(reason string, final bool) {
	if final {
		log.Printf("Disconnected (%s). Not reconnecting.", reason)
		return
	}
	log.Printf("Disconnected (%s). Reconnecting...", reason)
}

func (p *printer) OnStateChanged(snapshot feed.State) {
	unread := int64(feed.UnreadCount(snapshot))
	if p.lastUnread.Swap(unread) != unread {
		log.Printf("Unread notifications: %d", unread)
	}
}

func (p *printer) OnError(message string) {
	log.Printf("Warning: %s", message)
}

func parseFlags(args []string) ([]string, bool, error) {
	fs := flag.NewFlagSet("livefeed", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showHelp {
		printUsage()
		return nil, false, nil
	}
	return fs.Args(), *verbose, nil
}

func printUsage() {
	fmt.Println(`livefeed - realtime notification and chat sync client

Usage:
  livefeed             Stream live updates; type to send chat messages
  livefeed ask <q>     Ask the chatbot a question
  livefeed tasks       List your assigned tasks
  livefeed help        Show this help message
  livefeed version     Show version information

Environment Variables:
  LIVEFEED_SERVER_URL  Server URL (default: https://api.livefeed.dev)
  LIVEFEED_TOKEN       Bearer token (required)
  LIVEFEED_HOME_DIR    Config directory (default: ~/.livefeed)
  LIVEFEED_PUSHOVER_TOKEN
  LIVEFEED_PUSHOVER_USER_KEY
                       Forward urgent notifications via Pushover when both set
  DEBUG                Enable debug logging (true/1)

Flags:
  --verbose            Enable verbose logging

Examples:
  # Stream against a local server
  LIVEFEED_SERVER_URL=http://localhost:3005 LIVEFEED_TOKEN=... livefeed

  # Ask the chatbot
  livefeed ask "what changed in project alpha today?"`)
}
