// Command gatewayd is a thin demonstration launcher for the gateway core:
// it opens one session against one target, optionally drives an
// instruction graph against it, optionally records it, and otherwise
// mirrors the session's raw bytes to stdout while forwarding stdin as
// input. It does no routing, auth, or TLS termination — those are the
// caller's concern, per spec's Non-goals. Grounded on
// _examples/ehrlich-b-wingthing's cmd/wtd/main.go (cobra root command,
// signal.NotifyContext graceful shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pesgel/gateway/internal/config"
	"github.com/pesgel/gateway/internal/execstate"
	"github.com/pesgel/gateway/internal/instruct"
	"github.com/pesgel/gateway/internal/logger"
	"github.com/pesgel/gateway/internal/session"
	"github.com/pesgel/gateway/internal/sshclient"
)

func main() {
	var (
		configPath string
		host       string
		port       int
		username   string
		password   string
		keyPath    string
		passphrase string
		term       string
		cols       int
		rows       int
		insecure   bool
		record     bool
		graphPath  string
		watchGraph bool
	)

	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "privileged-access SSH gateway demo",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}

			target := sshclient.TargetSpec{
				Host:               host,
				Port:               port,
				Username:           username,
				PTY:                sshclient.PTYRequest{Term: term, Cols: cols, Rows: rows},
				AllowInsecureAlgos: insecure,
			}
			if keyPath != "" {
				keyBytes, err := os.ReadFile(keyPath)
				if err != nil {
					return fmt.Errorf("read private key: %w", err)
				}
				target.AuthKind = sshclient.AuthPublicKey
				target.PrivateKey = keyBytes
				target.Passphrase = passphrase
			} else {
				target.AuthKind = sshclient.AuthPassword
				target.Password = password
			}

			var rec *session.RecordingConfig
			if record {
				rec = &session.RecordingConfig{Root: cfg.RecordingRoot}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			h, err := session.Open(ctx, cfg, target, rec)
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			defer h.Close()

			if graphPath != "" {
				if watchGraph {
					return watchAndRunGraph(ctx, graphPath, h)
				}
				return runGraph(ctx, graphPath, h)
			}
			return mirrorToStdio(ctx, h)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to gateway config YAML")
	root.Flags().StringVar(&host, "host", "", "target host")
	root.Flags().IntVar(&port, "port", 22, "target port")
	root.Flags().StringVar(&username, "user", "root", "target username")
	root.Flags().StringVar(&password, "password", "", "password auth (ignored if --key is set)")
	root.Flags().StringVar(&keyPath, "key", "", "private key file for public-key auth")
	root.Flags().StringVar(&passphrase, "passphrase", "", "private key passphrase")
	root.Flags().StringVar(&term, "term", "xterm-256color", "pty TERM")
	root.Flags().IntVar(&cols, "cols", 80, "pty columns")
	root.Flags().IntVar(&rows, "rows", 24, "pty rows")
	root.Flags().BoolVar(&insecure, "insecure-algos", false, "widen kex/cipher list for legacy targets")
	root.Flags().BoolVar(&record, "record", false, "write an asciicast recording under the config's recording root")
	root.Flags().StringVar(&graphPath, "graph", "", "run this instruction-graph YAML file instead of mirroring stdio")
	root.Flags().BoolVar(&watchGraph, "watch-graph", false, "reload and rerun --graph whenever its file changes on disk")

	_ = root.MarkFlagRequired("host")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runGraph drives an instruction graph against the session and prints its
// terminal status, rather than handing the terminal to an interactive user.
func runGraph(ctx context.Context, graphPath string, h *session.Handle) error {
	g, err := instruct.LoadFile(graphPath)
	if err != nil {
		return err
	}

	log := logger.ForSession(h.ID.String())
	engine := instruct.NewEngine(g, h.Input(), h.Events(), log)
	engine.OnExpire = func(expErr *instruct.ExpiredError) {
		fmt.Fprintf(os.Stderr, "gatewayd: %s\n", expErr.Error())
	}

	status, runErr := engine.Run(ctx)
	fmt.Printf("gatewayd: instruction graph finished: %s\n", status)
	return runErr
}

// watchAndRunGraph runs graphPath once, then reruns it every time
// config.WatchInstructionGraphs reports the file changed, so a graph author
// can edit and re-drive it against the same live session without
// restarting gatewayd. Stops when ctx is canceled or a run returns an error.
func watchAndRunGraph(ctx context.Context, graphPath string, h *session.Handle) error {
	if err := runGraph(ctx, graphPath, h); err != nil {
		return err
	}

	events, err := config.WatchInstructionGraphs(ctx, filepath.Dir(graphPath))
	if err != nil {
		return fmt.Errorf("watch graph dir: %w", err)
	}

	abs, err := filepath.Abs(graphPath)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			evAbs, err := filepath.Abs(ev.Path)
			if err != nil || evAbs != abs {
				continue
			}
			fmt.Printf("gatewayd: %s changed, rerunning\n", graphPath)
			if err := runGraph(ctx, graphPath, h); err != nil {
				return err
			}
		}
	}
}

// mirrorToStdio forwards stdin to the session and the session's raw bytes
// to stdout, until ctx is canceled.
func mirrorToStdio(ctx context.Context, h *session.Handle) error {
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				select {
				case h.Input() <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-h.Events():
			if !ok {
				return nil
			}
			if ev.Kind == execstate.RawBytes {
				os.Stdout.Write(ev.Bytes)
			}
		}
	}
}
