package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// backingServices are the containers the api and worker expect on localhost:
// postgres for file records, redis for the task queue, minio for objects.
var backingServices = []string{"postgres", "redis", "minio"}

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "inkvault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inkvault",
		Short: "Inkvault development CLI",
		Long: `Drives the local Inkvault development loop: brings the postgres, redis, and
minio containers up and down, runs the api and worker from source, and checks
a running api end to end with a real upload.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&composeFile, "compose-file", "docker-compose.yml", "compose file describing the backing containers")
	cmd.AddCommand(
		newStackCmd(),
		newRunCmd(),
		newTestCmd(),
		newSmokeCmd(),
	)
	return cmd
}

func newStackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the postgres, redis, and minio containers",
	}
	cmd.AddCommand(newStackUpCmd(), newStackDownCmd(), newStackLogsCmd())
	return cmd
}

func newStackUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up [service...]",
		Short: "Start the backing containers in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			services := args
			if len(services) == 0 {
				services = backingServices
			}
			composeArgs := append([]string{"compose", "-f", composeFile, "up", "-d"}, services...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
}

func newStackDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the backing containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "down"}
			if removeVolumes {
				composeArgs = append(composeArgs, "-v")
			}
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "also remove the postgres and minio volumes")
	return cmd
}

func newStackLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Tail logs from the backing containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "logs"}
			if follow {
				composeArgs = append(composeArgs, "-f")
			}
			if len(args) == 0 {
				args = backingServices
			}
			return runCommand(cmd.Context(), "docker", append(composeArgs, args...)...)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream logs continuously")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the api or worker from source",
	}
	for _, name := range []string{"api", "worker"} {
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("go run ./cmd/%s against the local stack", name),
			RunE: func(cmd *cobra.Command, args []string) error {
				goArgs := append([]string{"run", "./cmd/" + name}, args...)
				return runCommand(cmd.Context(), "go", goArgs...)
			},
		})
	}
	return cmd
}

func newTestCmd() *cobra.Command {
	var race, cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run the Go tests, ./... when no packages are named",
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			if len(args) == 0 {
				args = []string{"./..."}
			}
			return runCommand(cmd.Context(), "go", append(goArgs, args...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "enable the race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "report per-package coverage")
	return cmd
}

func newSmokeCmd() *cobra.Command {
	var (
		apiURL    string
		tenantID  string
		ownerType string
		ownerID   string
	)
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Upload a sample text file to a running api and print the stored record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoke(cmd.Context(), cmd.OutOrStdout(), apiURL, tenantID, ownerType, ownerID)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8080", "base URL of the running api")
	cmd.Flags().StringVar(&tenantID, "tenant", "dev", "tenant to upload under")
	cmd.Flags().StringVar(&ownerType, "owner-type", "example", "owner type for the upload")
	cmd.Flags().StringVar(&ownerID, "owner-id", "smoke", "owner id for the upload")
	return cmd
}

// runSmoke pushes one generated text file through the full ingestion path
// of a running api. Anything other than 201 is a failure.
func runSmoke(ctx context.Context, out io.Writer, apiURL, tenantID, ownerType, ownerID string) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("ownerType", ownerType); err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	if err := form.WriteField("ownerId", ownerID); err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="smoke.txt"`)
	header.Set("Content-Type", "text/plain")
	part, err := form.CreatePart(header)
	if err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	fmt.Fprintf(part, "inkvault smoke upload at %s\n", time.Now().UTC().Format(time.RFC3339))
	if err := form.Close(); err != nil {
		return fmt.Errorf("build form: %w", err)
	}

	url := fmt.Sprintf("%s/v1/tenants/%s/files", strings.TrimRight(apiURL, "/"), tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		fmt.Fprintln(out, strings.TrimSpace(string(payload)))
		return nil
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
