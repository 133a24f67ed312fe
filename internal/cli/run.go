package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/importer"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Import a file",
	Long: `Stores the file, creates an import job for the model and runs it.

Options come from a JSON, YAML or TOML document (--options); --format and
--identity override the matching keys of that document.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <job-id>",
	Short: "Run an existing job again with a new log",
	Args:  cobra.ExactArgs(1),
	RunE:  runRerun,
}

var (
	runModel    string
	runOptions  string
	runFormat   string
	runIdentity []string
)

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "target model key (required)")
	runCmd.Flags().StringVarP(&runOptions, "options", "o", "", "options document (.json, .yaml, .yml, .toml)")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "", "source format: csv, table, excel, json")
	runCmd.Flags().StringSliceVar(&runIdentity, "identity", nil, "fields that identify existing records")
	_ = runCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rerunCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := readRunOptions(cmd)
	if err != nil {
		return err
	}

	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	sub, err := app.Service.SubmitJob(cmd.Context(), runModel, filepath.Base(args[0]), src, opts)
	if err != nil {
		return fmt.Errorf("submit: %s", importer.FormatUserError(err))
	}
	return printSubmission(cmd, sub)
}

func readRunOptions(cmd *cobra.Command) (importer.Options, error) {
	var opts importer.Options
	if runOptions != "" {
		data, err := os.ReadFile(runOptions)
		if err != nil {
			return opts, err
		}
		if opts, err = importer.ReadOptionsFile(runOptions, data); err != nil {
			return opts, err
		}
	}
	if cmd.Flags().Changed("format") {
		opts.Format = runFormat
	}
	if cmd.Flags().Changed("identity") {
		opts.Identity = runIdentity
	}
	return opts, nil
}

func runRerun(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}
	sub, err := app.Service.Rerun(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("rerun: %s", importer.FormatUserError(err))
	}
	return printSubmission(cmd, sub)
}

// printSubmission prints the job and, for finished runs, the log lines.
// Async runs are still going; their log is available through "logs".
func printSubmission(cmd *cobra.Command, sub *importer.Submission) error {
	cmd.Printf("Job %s (%s)\n", sub.Job.ID, sub.Job.ModelKey)
	cmd.Printf("Log %s\n", sub.Log.ID)
	for _, w := range sub.Warnings {
		cmd.Printf("warning: %s\n", w)
	}

	if !sub.Log.Finished {
		cmd.Println("Import started in the background")
		return nil
	}

	cmd.Println()
	for _, line := range sub.Log.Lines() {
		cmd.Println(line)
	}
	return nil
}
