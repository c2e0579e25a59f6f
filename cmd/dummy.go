package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"syncq/internal/dummy"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run internal dummy WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		port, _ := f.GetInt("port")
		delay, _ := f.GetDuration("delay")
		jitter, _ := f.GetDuration("jitter")
		dropEvery, _ := f.GetInt("drop-every")
		requireUser, _ := f.GetBool("require-user")

		srv := dummy.Start(dummy.ServerConfig{
			Port:        port,
			Delay:       delay,
			Jitter:      jitter,
			DropEvery:   dropEvery,
			RequireUser: requireUser,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	f := dummyCmd.Flags()
	f.IntP("port", "p", 8080, "Port to run dummy server on")
	f.Duration("delay", 0, "Delay before every reply")
	f.Duration("jitter", 0, "Random extra delay, up to this much")
	f.Int("drop-every", 0, "Silently drop every Nth message per connection")
	f.Bool("require-user", false, "Reject connections without a userId query parameter")
}
