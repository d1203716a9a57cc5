package main

import (
	"bytes"
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/classboard/internal/board"
	"github.com/manpreetbhatti/classboard/internal/collab"
	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/logger"
	"github.com/manpreetbhatti/classboard/internal/realtime"
)

const (
	FlagServerUrl   = "server-url"
	FlagSession     = "session"
	FlagUser        = "user"
	FlagWidth       = "width"
	FlagHeight      = "height"
	FlagWritePeriod = "write-period"
	FlagSaveOnExit  = "save-on-exit"
)

// logView prints notices and permission changes of a headless board.
type logView struct {
	log logger.Logger
}

func (v logView) Notify(n board.Notice) {
	v.log.Info("notice [" + n.Level.String() + "] " + n.Text)
}

func (v logView) PermissionChanged(canDraw bool) {
	v.log.Info("permission changed", map[string]interface{}{"can_draw": canDraw})
}

func (v logView) FeatureChanged(feature string, enabled bool) {
	v.log.Info("feature toggled", map[string]interface{}{"feature": feature, "enabled": enabled})
}

// relayURL turns the HTTP base URL into the relay websocket endpoint.
func relayURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// GetJoinCmd returns the headless replica command.
func GetJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join [output.png]",
		Short: "Join a session as a headless replica and keep a PNG of the board",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			serverUrl, err := cmd.Flags().GetString(FlagServerUrl)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagServerUrl, err)
			}
			session, err := cmd.Flags().GetString(FlagSession)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagSession, err)
			}
			user, err := cmd.Flags().GetString(FlagUser)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagUser, err)
			}
			width, err := cmd.Flags().GetInt(FlagWidth)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagWidth, err)
			}
			height, err := cmd.Flags().GetInt(FlagHeight)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagHeight, err)
			}
			period, err := cmd.Flags().GetDuration(FlagWritePeriod)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagWritePeriod, err)
			}
			saveOnExit, err := cmd.Flags().GetBool(FlagSaveOnExit)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagSaveOnExit, err)
			}
			output := "whiteboard.png"
			if len(args) == 1 {
				output = args[0]
			}
			if session == "" {
				log.Fatalf("%s flag is required", FlagSession)
			}

			appLog := logger.Std("[boardctl] ")
			wsURL, err := relayURL(serverUrl)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagServerUrl, err)
			}

			ctx := context.Background()
			conn, err := realtime.Dial(ctx, wsURL, session, user, appLog)
			if err != nil {
				log.Fatalf("dial: %v", err)
			}
			defer conn.Close()

			api := collab.New(serverUrl, session, user)
			wb, err := board.New(board.Options{
				Identity:    user,
				Width:       width,
				Height:      height,
				Transport:   conn,
				Loader:      images.NewHTTPLoader(serverUrl),
				Uploader:    api,
				Saver:       api,
				Permissions: api,
				Presence:    api,
				Activity:    api,
				View:        logView{log: appLog},
				Logger:      appLog,
			})
			if err != nil {
				log.Fatalf("board init: %v", err)
			}
			if err := wb.Join(ctx); err != nil {
				log.Fatalf("join: %v", err)
			}
			log.Printf("🧑‍🎓 Joined session %s as %s, writing %s every %v", session, user, output, period)

			ticker := time.NewTicker(period)
			defer ticker.Stop()
			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

		loop:
			for {
				select {
				case <-ticker.C:
					if err := writeBoard(wb, output); err != nil {
						appLog.Warn("write board", err)
					}
				case <-conn.Done():
					appLog.Warn("relay connection closed")
					break loop
				case <-signalCh:
					break loop
				}
			}

			if err := writeBoard(wb, output); err != nil {
				appLog.Warn("write board", err)
			}
			if saveOnExit {
				if err := wb.Save(ctx); err != nil {
					appLog.Warn("save snapshot", err)
				}
			}
			wb.Leave(ctx)
		},
	}
	cmd.Flags().String(FlagServerUrl, "http://127.0.0.1:8080", "(optional) server base url")
	cmd.Flags().String(FlagSession, "", "session id to join")
	cmd.Flags().String(FlagUser, "replica", "(optional) identity to join as")
	cmd.Flags().Int(FlagWidth, 1280, "(optional) viewport width")
	cmd.Flags().Int(FlagHeight, 720, "(optional) viewport height")
	cmd.Flags().Duration(FlagWritePeriod, 2*time.Second, "(optional) PNG write period")
	cmd.Flags().Bool(FlagSaveOnExit, false, "(optional) save a snapshot to the server when leaving")

	return cmd
}

// writeBoard replaces output atomically with the composed board.
func writeBoard(wb *board.Whiteboard, output string) error {
	var buf bytes.Buffer
	if err := wb.ExportPNG(&buf); err != nil {
		return errors.Wrap(err, "encode")
	}
	tmp := output + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, output)
}

func init() {
	rootCmd.AddCommand(GetJoinCmd())
}
