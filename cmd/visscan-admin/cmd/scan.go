package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/visscan/api/internal/app"
	"github.com/visscan/api/internal/infra/jobs"
	"github.com/visscan/api/internal/infra/postgres"
	"github.com/visscan/api/pkg/crypto"
	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
)

var (
	flagReason string
	flagStatus string
	flagLimit  int
	flagJSON   bool
)

var describeCmd = &cobra.Command{
	Use:   "describe ID",
	Short: "Show details of a scan record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

var forceCancelCmd = &cobra.Command{
	Use:   "force-cancel ID",
	Short: "Cancel a scan regardless of its current status",
	Long: `force-cancel marks a scan CANCELLED even if it is already in a
terminal state. It also attempts to cancel the external pipeline when
one exists. Use it for records stuck by a lost webhook.`,
	Args: cobra.ExactArgs(1),
	RunE: runForceCancel,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass over running scans",
	Long: `sweep polls the CI system once for every RUNNING scan with a real
pipeline id and applies any terminal status it finds. The server runs
the same pass on an interval; this command forces one immediately.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan records",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	forceCancelCmd.Flags().StringVar(&flagReason, "reason", "", "Cancellation reason recorded on the scan")
	listCmd.Flags().StringVar(&flagStatus, "status", "", "Filter by status (e.g. RUNNING, FAILED_SECURITY)")
	listCmd.Flags().IntVar(&flagLimit, "limit", 50, "Maximum records to return")
	describeCmd.Flags().BoolVar(&flagJSON, "json", false, "Output as JSON")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	id, err := shared.IDFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid scan id %q", args[0])
	}

	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	rec, err := env.scans.GetByID(context.Background(), id)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("ID:            %s\n", rec.ID)
	fmt.Printf("Service:       %s\n", rec.ServiceID)
	fmt.Printf("Pipeline:      %s\n", rec.PipelineID)
	fmt.Printf("Status:        %s (%d%%)\n", rec.Status, rec.Status.Progress())
	fmt.Printf("Kind:          %s\n", rec.Kind)
	fmt.Printf("Image Tag:     %s\n", rec.ImageTag)
	fmt.Printf("Image Pushed:  %t\n", rec.ImagePushed)
	fmt.Printf("Vulns:         critical=%d high=%d medium=%d low=%d\n",
		rec.VulnCritical, rec.VulnHigh, rec.VulnMedium, rec.VulnLow)
	if rec.ErrorMessage != "" {
		fmt.Printf("Error:         %s\n", rec.ErrorMessage)
	}
	fmt.Printf("Created:       %s\n", formatTime(&rec.CreatedAt))
	fmt.Printf("Started:       %s\n", formatTime(rec.StartedAt))
	fmt.Printf("Completed:     %s\n", formatTime(rec.CompletedAt))
	if n := len(rec.Details.Findings); n > 0 {
		fmt.Printf("Findings:      %d\n", n)
		for _, f := range rec.Details.Findings {
			fmt.Printf("  [%s] %s %s\n", f.Severity, f.RuleID, f.Location)
		}
	}
	return nil
}

func runForceCancel(cmd *cobra.Command, args []string) error {
	id, err := shared.IDFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid scan id %q", args[0])
	}

	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	svc, cleanup, err := newScanService(env)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.ForceCancel(context.Background(), id, flagReason); err != nil {
		return err
	}

	fmt.Printf("scan %s force-cancelled\n", id)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	reconciler := app.NewReconciler(env.scans, env.ci, env.cfg.Reconciler.Interval, env.log)
	reconciler.Sweep(context.Background())

	fmt.Println("sweep complete")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	filter := scan.Filter{Limit: flagLimit}
	if flagStatus != "" {
		status := scan.Status(flagStatus)
		filter.Status = &status
	}

	records, err := env.scans.List(context.Background(), filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tKIND\tPIPELINE\tCREATED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Status, rec.Kind, rec.PipelineID,
			rec.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// newScanService wires a full scan service for commands that need the
// orchestration logic rather than raw repository access.
func newScanService(env *adminEnv) (*app.ScanService, func(), error) {
	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     env.cfg.Redis.Addr(),
		RedisPassword: env.cfg.Redis.Password,
		RedisDB:       env.cfg.Redis.DB,
	}, env.log)
	if err != nil {
		return nil, nil, err
	}

	svc := app.NewScanService(
		env.scans,
		postgres.NewProjectRepository(env.db),
		env.ci,
		jobClient,
		crypto.NewNoOpEncryptor(),
		env.cfg.GitLab.PublishJobName,
		env.log,
	)

	cleanup := func() {
		if err := jobClient.Close(); err != nil {
			env.log.Error("failed to close job client", "error", err)
		}
	}
	return svc, cleanup, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
