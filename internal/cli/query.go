package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models open for import",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var reflectionsCmd = &cobra.Command{
	Use:   "reflections",
	Short: "List reflection names and source formats",
	Args:  cobra.NoArgs,
	RunE:  runReflections,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent import jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobs,
}

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show the run logs of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var recordsCmd = &cobra.Command{
	Use:   "records <model>",
	Short: "Show imported records of a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecords,
}

var listLimit int

func init() {
	jobsCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of entries")
	recordsCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of entries")

	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(reflectionsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(recordsCmd)
}

func runModels(cmd *cobra.Command, _ []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tLABEL\tFIELDS")
	for _, m := range app.Service.Models() {
		names := make([]string, 0, len(m.Fields)+len(m.Properties))
		for _, f := range m.Fields {
			names = append(names, f.Name+":"+f.Kind.String())
		}
		for _, p := range m.Properties {
			names = append(names, p.Name+":property")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Key, m.Label, strings.Join(names, ", "))
	}
	return tw.Flush()
}

func runReflections(cmd *cobra.Command, _ []string) error {
	cmd.Println("Reflections:")
	for _, name := range app.Service.Reflections() {
		cmd.Printf("  %s\n", name)
	}
	cmd.Println("Formats:")
	for _, f := range app.Service.Formats() {
		cmd.Printf("  %s\n", f)
	}
	return nil
}

func runJobs(cmd *cobra.Command, _ []string) error {
	jobs, err := app.Service.ListJobs(cmd.Context(), listLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		cmd.Println("No jobs")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tFILE\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.ModelKey, j.UploadFile, j.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func runLogs(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}
	entries, err := app.Service.ListLogs(cmd.Context(), id)
	if err != nil {
		return err
	}

	for i, e := range entries {
		if i > 0 {
			cmd.Println()
		}
		state := "finished"
		if !e.Finished {
			state = "running"
		}
		cmd.Printf("Log %s  %s  %s\n", e.ID, e.ImportedAt.Format("2006-01-02 15:04:05"), state)
		for _, line := range e.Lines() {
			cmd.Printf("  %s\n", line)
		}
	}
	return nil
}

func runRecords(cmd *cobra.Command, args []string) error {
	model, err := app.Service.Model(args[0])
	if err != nil {
		return err
	}
	recs, err := app.Store.Records(cmd.Context(), model)
	if err != nil {
		return err
	}

	cmd.Printf("%d %s records\n", len(recs), model.Key)
	for _, r := range recs[:min(listLimit, len(recs))] {
		values, err := json.Marshal(r.Values)
		if err != nil {
			return err
		}
		cmd.Printf("%d\t%s\n", r.ID, values)
	}
	return nil
}
