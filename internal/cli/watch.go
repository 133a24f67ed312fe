package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Import files dropped into a directory",
	Long: `Watches a directory and imports every file written to it.

Each file needs a job document naming the model: either a sibling
<name>.job.yaml (or .json, .toml) or a job.yaml shared by the directory.
Imported files move to the Uploaded subdirectory. Runs until interrupted.

The directory defaults to $IMPORT_WATCH_DIR.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var watchSettle time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchSettle, "settle", watch.DefaultSettle, "quiet period before a written file is imported")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := app.Config.Import.WatchDir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return errors.New("no directory given and IMPORT_WATCH_DIR is unset")
	}

	w, err := watch.New(dir, app.Service, watch.WithSettle(watchSettle))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Watching %s (Ctrl+C to stop)\n", dir)
	return w.Run(ctx)
}
