// Package main is the UI companion. It runs in the interactive user session,
// shows notifications and countdowns on behalf of the privileged service, and
// captures screenshots on request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
	"github.com/guardline/agent/internal/infra"
	"github.com/guardline/agent/internal/ipc"
	"github.com/guardline/agent/internal/logging"
)

var (
	// Version info (set via ldflags)
	Version   = "1.0.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guardhelper",
	Short: "Guardline UI companion",
	Long: `guardhelper is the user-session companion of the Guardline agent. It
connects to the privileged service and renders notifications, countdowns and
the lock overlay. It holds no rules and makes no decisions; killing it
changes nothing about enforcement.`,
	Version: Version,
	RunE:    runCompanion,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("guardhelper %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runCompanion(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:    os.Getenv("GUARD_LOG_LEVEL"),
		Filename: filepath.Join(os.TempDir(), "guardhelper.log"),
	})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ui := newCompanionUI(infra.NewExecRunner(), logger)
	client := ipc.NewClient(ui.handleFrame, logger)
	ui.send = client.Send

	logger.Info("guardhelper starting", zap.String("version", Version))
	err := client.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("guardhelper stopped")
		return nil
	}
	return err
}

// companionUI renders frames from the service. All display goes through
// system tools so the helper stays a single small binary.
type companionUI struct {
	runner infra.Runner
	logger *zap.Logger
	send   func(domain.Frame) error
}

func newCompanionUI(runner infra.Runner, logger *zap.Logger) *companionUI {
	return &companionUI{runner: runner, logger: logger}
}

func (u *companionUI) handleFrame(f domain.Frame) {
	switch f.Command {
	case domain.CmdNotify, domain.CmdMessage:
		title, _ := f.Payload["title"].(string)
		body, _ := f.Payload["body"].(string)
		if title == "" {
			title = "Guardline"
		}
		if body == "" {
			body, _ = f.Payload["message"].(string)
		}
		u.showNotification(title, body)

	case domain.CmdCountdown:
		reason, _ := f.Payload["reason"].(string)
		seconds, _ := f.Payload["seconds"].(float64)
		u.showNotification("Shutting down",
			fmt.Sprintf("%s. The device will shut down in %d seconds.", reason, int(seconds)))

	case domain.CmdLockScreen:
		message, _ := f.Payload["message"].(string)
		u.showNotification("Device locked", message)
		u.lockSession()

	case domain.CmdScreenshot:
		u.captureScreenshot()

	default:
		u.logger.Debug("unhandled frame", zap.String("command", f.Command))
	}
}

// showNotification pops a toast via the shell. Failures are logged only; the
// service does not depend on delivery.
func (u *companionUI) showNotification(title, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	script := fmt.Sprintf(
		`Add-Type -AssemblyName System.Windows.Forms; `+
			`$n = New-Object System.Windows.Forms.NotifyIcon; `+
			`$n.Icon = [System.Drawing.SystemIcons]::Information; `+
			`$n.Visible = $true; `+
			`$n.ShowBalloonTip(10000, %q, %q, 'Warning')`,
		title, body)
	if _, err := u.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script); err != nil {
		u.logger.Warn("failed to show notification", zap.Error(err))
	}
}

func (u *companionUI) lockSession() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := u.runner.Run(ctx, "rundll32.exe", "user32.dll,LockWorkStation"); err != nil {
		u.logger.Warn("failed to lock session", zap.Error(err))
	}
}

// captureScreenshot grabs the primary screen and reports the file path back
// to the service.
func (u *companionUI) captureScreenshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := filepath.Join(os.TempDir(),
		fmt.Sprintf("guardline-screen-%d.png", time.Now().Unix()))
	script := fmt.Sprintf(
		`Add-Type -AssemblyName System.Windows.Forms,System.Drawing; `+
			`$b = [System.Windows.Forms.Screen]::PrimaryScreen.Bounds; `+
			`$bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height; `+
			`$g = [System.Drawing.Graphics]::FromImage($bmp); `+
			`$g.CopyFromScreen($b.Location, [System.Drawing.Point]::Empty, $b.Size); `+
			`$bmp.Save(%q, [System.Drawing.Imaging.ImageFormat]::Png)`,
		path)
	if _, err := u.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script); err != nil {
		u.logger.Warn("screenshot capture failed", zap.Error(err))
		return
	}

	if u.send == nil {
		return
	}
	err := u.send(domain.Frame{
		Command: domain.CmdScreenshotDone,
		Payload: map[string]interface{}{"path": path},
	})
	if err != nil {
		u.logger.Warn("failed to report screenshot", zap.Error(err))
	}
}
