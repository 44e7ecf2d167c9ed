package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/young13371337/linker-sub001/pkg/chatapi"
	"github.com/young13371337/linker-sub001/pkg/chatsync"
	"github.com/young13371337/linker-sub001/pkg/wstransport"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Enter a chat and sync it until interrupted",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "chat", Usage: "Chat ID to enter", Required: true},
		&cli.StringFlag{Name: "self", Usage: "Own participant ID", Required: true},
		&cli.StringFlag{Name: "peer", Usage: "Peer participant ID", Required: true},
	},
	Action: runChat,
}

func runChat(cliCtx *cli.Context) error {
	configPath := cliCtx.String("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache *chatsync.WarmCache
	if cfg.CachePath != "" {
		cache, err = chatsync.OpenWarmCache(ctx, cfg.CachePath)
		if err != nil {
			return err
		}
		defer cache.Close()
	}

	api := chatapi.NewClient(cfg.ChatAPIURL, log)

	var session *chatsync.ChatSession
	conn, err := wstransport.Dial(ctx, cfg.RealtimeURL, log,
		func(channel, event string, data json.RawMessage) {
			// Nothing is subscribed before the session exists, but a pushy
			// gateway could still send unsolicited frames.
			if session != nil {
				session.Mux().Dispatch(channel, event, data)
			}
		})
	if err != nil {
		return err
	}
	defer conn.Close()

	session = chatsync.NewChatSession(
		cliCtx.String("chat"), cliCtx.String("self"), cliCtx.String("peer"),
		chatsync.SessionDeps{
			Messages:  api,
			Media:     api,
			Typing:    api,
			Transport: conn,
			Devices:   &chatsync.SyntheticSource{},
			Cache:     cache,
			Config:    cfg,
			Log:       log,
			Notice: func(msg string) {
				fmt.Fprintf(os.Stderr, "! %s\n", msg)
			},
		})

	if err := session.Enter(ctx); err != nil {
		return err
	}
	defer session.Leave(context.Background())

	go watchConfig(ctx, configPath, log)
	go readInput(ctx, session, log)

	printMessages(session)
	<-ctx.Done()
	return nil
}

// readInput sends each stdin line as a message. Lines starting with "/del "
// delete by ID; "/voice" and "/video" run a synthetic capture.
func readInput(ctx context.Context, session *chatsync.ChatSession, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/del "):
			session.Remove(ctx, strings.TrimPrefix(line, "/del "))
		case line == "/voice", line == "/video":
			kind := chatsync.MediaAudio
			if line == "/video" {
				kind = chatsync.MediaVideo
			}
			capture, err := session.StartCapture(ctx, kind)
			if err != nil {
				log.Error().Err(err).Msg("Capture failed to start")
				continue
			}
			fmt.Println("recording... press enter to stop")
			scanner.Scan()
			if err := capture.Stop(ctx); err != nil {
				log.Error().Err(err).Msg("Capture failed")
			}
		default:
			session.InputChanged()
			if _, err := session.SendText(ctx, line); err != nil {
				log.Error().Err(err).Msg("Send failed")
			}
		}
		printMessages(session)
	}
}

func printMessages(session *chatsync.ChatSession) {
	for _, msg := range session.Store().Snapshot() {
		state := " "
		if !msg.Persisted {
			state = "…"
		}
		if msg.Failed {
			state = "✗"
		}
		fmt.Printf("%s [%s] %s: %s\n", state, msg.ID, msg.Sender, msg.Text)
	}
}

// watchConfig applies log-level changes from the config file without a
// restart. Other fields require one; they are bound at session entry.
func watchConfig(ctx context.Context, path string, log zerolog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Warn().Err(err).Msg("Failed to watch config directory")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := loadConfig(path)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid config change")
				continue
			}
			if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
				zerolog.SetGlobalLevel(lvl)
				log.Info().Str("level", cfg.LogLevel).Msg("Applied new log level")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
