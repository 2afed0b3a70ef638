package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"modelscout/services/cli"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	api   string
	user  string
	admin bool
}

func (g *globalFlags) client() (*cli.Client, error) {
	role := ""
	if g.admin {
		role = "admin"
	}
	return cli.NewClient(g.api, g.user, role)
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "scoutctl",
		Short:         "Utility for submitting and tracking modelscout import jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.api, "api", "http://localhost:8080", "Base URL of the modelscout API")
	cmd.PersistentFlags().StringVar(&flags.user, "user", "", "User id sent with each request")
	cmd.PersistentFlags().BoolVar(&flags.admin, "admin", false, "Send requests with the admin role")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(newImportsCommand(&flags))
	cmd.AddCommand(newCatalogCommand(&flags))
	return cmd
}

func newImportsCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imports",
		Short: "Import job operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newImportsSubmitCommand(flags))
	cmd.AddCommand(newImportsStatusCommand(flags))
	cmd.AddCommand(newImportsListCommand(flags))
	cmd.AddCommand(newImportsWatchCommand(flags))
	return cmd
}

func newImportsSubmitCommand(flags *globalFlags) *cobra.Command {
	var (
		payloadFile string
		format      string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation payload for model dependency import",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			data, err := os.ReadFile(payloadFile)
			if err != nil {
				return err
			}
			var payload map[string]any
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("parse payload file: %w", err)
			}

			client, err := flags.client()
			if err != nil {
				return err
			}

			snap, err := client.SubmitImport(ctx, payload, format)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, cli.Indent(snap))

			if !watch {
				return nil
			}
			var job struct {
				JobID string `json:"job_id"`
			}
			if err := json.Unmarshal(snap, &job); err != nil || job.JobID == "" {
				return fmt.Errorf("server response missing job_id")
			}
			return client.WatchImport(ctx, job.JobID, printFrame)
		},
	}

	cmd.Flags().StringVar(&payloadFile, "payload", "", "Path to the JSON payload file")
	cmd.Flags().StringVar(&format, "format", "auto", "Payload format hint (auto, native, nodegraph, flatsettings)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Stream status updates until the job finishes")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func newImportsStatusCommand(flags *globalFlags) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current snapshot of an import job",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			snap, err := client.GetImport(commandContext(cmd), jobID)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, cli.Indent(snap))
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Import job id")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newImportsListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List import jobs visible to the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			jobs, err := client.ListImports(commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, cli.Indent(jobs))
			return nil
		},
	}
}

func newImportsWatchCommand(flags *globalFlags) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live status updates for an import job",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			return client.WatchImport(commandContext(cmd), jobID, printFrame)
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Import job id")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newCatalogCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Model catalog operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var kind string
	list := &cobra.Command{
		Use:   "list",
		Short: "List known models of a kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			models, err := client.ListCatalog(commandContext(cmd), kind)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, cli.Indent(models))
			return nil
		},
	}
	list.Flags().StringVar(&kind, "kind", "checkpoint", "Model kind (checkpoint, lora, vae, embedding, controlnet)")

	cmd.AddCommand(list)
	return cmd
}

func printFrame(frame json.RawMessage) {
	fmt.Fprintln(os.Stdout, cli.Indent(frame))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
