package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arosyihuddin/BotNexa/internal/config"
	"github.com/arosyihuddin/BotNexa/internal/pairing"
	"github.com/arosyihuddin/BotNexa/internal/qr"
	"github.com/arosyihuddin/BotNexa/internal/socket"
)

func pairCmd() *cobra.Command {
	var modeFlag string
	var pngFlag bool
	var timeoutFlag time.Duration

	cmd := &cobra.Command{
		Use:   "pair <bot-id>",
		Short: "Link a WhatsApp device to a bot via QR scan or pairing code",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			botID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %q is not a bot id\n", args[0])
				os.Exit(1)
			}

			var mode pairing.Mode
			switch modeFlag {
			case "qr":
				mode = pairing.ModeQR
			case "code":
				mode = pairing.ModePairingCode
			default:
				fmt.Fprintf(os.Stderr, "Error: --mode must be qr or code, got %q\n", modeFlag)
				os.Exit(1)
			}

			cfg := mustLoadConfig()
			timeout := timeoutFlag
			if timeout == 0 && cfg.PairTimeout != "" {
				timeout, err = time.ParseDuration(cfg.PairTimeout)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: bad pairTimeout in config: %v\n", err)
					os.Exit(1)
				}
			}
			runPair(cfg, botID, mode, pngFlag, timeout)
		},
	}

	cmd.Flags().StringVar(&modeFlag, "mode", "qr", "pairing mode: qr or code")
	cmd.Flags().BoolVar(&pngFlag, "png", false, "also print the QR code as base64 PNG")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "local attempt timeout (default 60s)")
	return cmd
}

// runPair drives one interactive pairing attempt until the device links,
// the user gives up, or the process is interrupted.
func runPair(cfg *config.Config, botID int64, mode pairing.Mode, png bool, timeout time.Duration) {
	log := slog.Default()
	transport := socket.New(cfg.SocketURL, log)

	snapshots := make(chan pairing.Snapshot, 8)
	notices := make(chan string, 8)

	// The callbacks run on the transport's read goroutine, which must never
	// block behind an interactive prompt; full buffers shed the oldest entry.
	session := pairing.New(transport, botID, pairing.Options{
		Notify:        func(s pairing.Snapshot) { pushLatest(snapshots, s) },
		OnNotice:      func(msg string) { pushLatest(notices, msg) },
		ClientTimeout: timeout,
		Logger:        log,
	})

	// Long wait ahead; pick up config edits made meanwhile so the user
	// knows a restart is needed for them to take effect.
	if watcher, err := config.NewWatcher(resolveConfigPath()); err == nil {
		watcher.OnChange(func(_ *config.Config, changed []string) {
			pushLatest(notices, fmt.Sprintf(
				"Config changed (%s); the new settings apply on the next run.",
				strings.Join(changed, ", ")))
		})
		if watcher.Start() == nil {
			defer watcher.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	session.Begin(mode)

	var lastQR, lastCode string
	for {
		select {
		case <-sigCh:
			fmt.Println("\nCancelling pairing...")
			session.Cancel()
			return

		case msg := <-notices:
			fmt.Fprintln(os.Stderr, msg)

		case snap := <-snapshots:
			switch snap.State {
			case pairing.StateAwaitingCode:
				fmt.Println("Waiting for the WhatsApp service to issue a code...")

			case pairing.StateCodeIssued:
				// Re-requests can re-issue the same code; render only changes.
				if snap.QRCode != "" && snap.QRCode != lastQR {
					lastQR = snap.QRCode
					renderQR(snap.QRCode, png)
				}
				if snap.PairingCode != "" && snap.PairingCode != lastCode {
					lastCode = snap.PairingCode
					renderPairingCode(snap.PairingCode)
				}

			case pairing.StateConnected:
				fmt.Println("Device linked successfully.")
				session.Close()
				return

			case pairing.StateTimedOut:
				fmt.Println("The pairing attempt timed out.")
				if !askRetry("Request a new code?") {
					session.Cancel()
					return
				}
				session.Reconnect()

			case pairing.StateConnecting:
				if !askRetry("Could not reach the service. Retry now?") {
					session.Cancel()
					return
				}
				session.Reconnect()
			}
		}
	}
}

// pushLatest enqueues without blocking: when the buffer is full the oldest
// entry is dropped so the newest state always gets through.
func pushLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func askRetry(title string) bool {
	again, err := promptConfirm(title, true)
	return err == nil && again
}

func renderQR(payload string, png bool) {
	art, err := qr.Terminal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rendering QR code: %v\n", err)
		return
	}
	fmt.Println()
	fmt.Print(art)
	fmt.Println("Scan with WhatsApp: Settings > Linked devices > Link a device")

	if png {
		b64, err := qr.PNGBase64(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding QR PNG: %v\n", err)
			return
		}
		fmt.Printf("\ndata:image/png;base64,%s\n", b64)
	}
}

func renderPairingCode(code string) {
	fmt.Println()
	fmt.Printf("  Pairing code:  %s\n\n", code)
	fmt.Println("Enter it in WhatsApp: Settings > Linked devices > Link a device > Link with phone number")
}
