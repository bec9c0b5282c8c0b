package command

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

func NewSubmitCmd(env *Env) *cobra.Command {
	var kind, file string

	cmd := &cobra.Command{
		Use:   "submit '{\"prompt\":\"lofi piano\",\"duration\":30}'",
		Short: "Submit a job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				payload = data
			case len(args) == 1:
				payload = []byte(args[0])
			default:
				return fmt.Errorf("payload argument or --file is required")
			}
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			resp, err := env.Client().Submit(cmd.Context(), entity.JobKind(kind), payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Job submitted:", resp.TaskID)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(entity.JobKindGenerate), "Job kind (generate, train_lora)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the payload from a file")
	return cmd
}

func NewStatusCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			st, err := env.Client().Status(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s | %-10s | kind=%s attempt=%d retries=%d\n", st.TaskID, st.Status, st.Kind, st.Attempt, st.Retries)
			if st.Progress != "" {
				fmt.Fprintln(out, "  progress:", st.Progress)
			}
			if st.FileURL != "" {
				fmt.Fprintln(out, "  file:", st.FileURL)
			}
			if st.Error != "" {
				fmt.Fprintf(out, "  error: %s (%s)\n", st.Error, st.ErrorReason)
			}
			return nil
		},
	}
}

func NewCancelCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			resp, err := env.Client().Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !resp.Cancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s already finished (%s)\n", resp.TaskID, resp.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation accepted for %s (%s)\n", resp.TaskID, resp.Status)
			return nil
		},
	}
}

func NewDownloadCmd(env *Env) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download a finished job's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			if output == "" {
				output = id.String() + ".wav"
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			n, err := env.Client().Download(cmd.Context(), id, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(output)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", output, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <job-id>.wav)")
	return cmd
}
