package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
)

func newRunningRecord(t *testing.T, repo *fakeScanRepo, pipelineID string) *scan.Record {
	t.Helper()
	rec, err := scan.NewRecord(shared.NewID(), scan.KindScanAndBuild, "latest")
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), rec))
	require.NoError(t, repo.MarkRunning(context.Background(), rec.ID))
	require.NoError(t, repo.SetPipelineID(context.Background(), rec.ID, pipelineID))
	return repo.get(rec.ID)
}

func intPtr(n int) *int { return &n }

func TestWebhookServiceIngest(t *testing.T) {
	t.Run("applies counts, merges details and finishes the scan", func(t *testing.T) {
		repo := newFakeScanRepo()
		svc := NewWebhookService(repo, logger.NewNop())
		rec := newRunningRecord(t, repo, "9001")

		// Stage one: build finished, partial logs.
		_, err := svc.Ingest(context.Background(), DeliveryInput{
			PipelineID: "9001",
			Status:     scan.StatusProcessing,
			Details:    scan.Details{Logs: []string{"build ok"}},
		})
		require.NoError(t, err)

		// Stage two: scan finished with findings.
		out, err := svc.Ingest(context.Background(), DeliveryInput{
			PipelineID:   "9001",
			Status:       scan.StatusBlocked,
			VulnCritical: intPtr(2),
			VulnHigh:     intPtr(5),
			Details: scan.Details{
				Findings: []scan.Finding{
					{RuleID: "CVE-2024-1111", Severity: "CRITICAL", Location: "libssl"},
				},
				Logs: []string{"scan ok"},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, scan.StatusBlocked, out.Status)
		assert.Equal(t, 2, out.VulnCritical)
		assert.Equal(t, 5, out.VulnHigh)
		assert.Equal(t, []string{"build ok", "scan ok"}, out.Details.Logs)
		require.Len(t, out.Details.Findings, 1)
		assert.NotNil(t, out.CompletedAt)

		stored := repo.get(rec.ID)
		assert.Equal(t, scan.StatusBlocked, stored.Status)
	})

	t.Run("redelivery is idempotent", func(t *testing.T) {
		repo := newFakeScanRepo()
		svc := NewWebhookService(repo, logger.NewNop())
		rec := newRunningRecord(t, repo, "9002")

		delivery := DeliveryInput{
			PipelineID:   "9002",
			Status:       scan.StatusSuccess,
			VulnCritical: intPtr(0),
			Details: scan.Details{
				Findings: []scan.Finding{{RuleID: "G-101", Severity: "LOW", Location: "main.go"}},
				Logs:     []string{"done"},
			},
		}

		_, err := svc.Ingest(context.Background(), delivery)
		require.NoError(t, err)
		first := repo.get(rec.ID)

		_, err = svc.Ingest(context.Background(), delivery)
		require.NoError(t, err)
		second := repo.get(rec.ID)

		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Details, second.Details)
		assert.Len(t, second.Details.Findings, 1)
		assert.Equal(t, []string{"done"}, second.Details.Logs)
	})

	t.Run("same finding key is replaced not duplicated", func(t *testing.T) {
		repo := newFakeScanRepo()
		svc := NewWebhookService(repo, logger.NewNop())
		rec := newRunningRecord(t, repo, "9003")

		_, err := svc.Ingest(context.Background(), DeliveryInput{
			PipelineID: "9003",
			Status:     scan.StatusProcessing,
			Details: scan.Details{Findings: []scan.Finding{
				{RuleID: "CVE-2024-2222", Severity: "HIGH", Location: "zlib"},
			}},
		})
		require.NoError(t, err)

		_, err = svc.Ingest(context.Background(), DeliveryInput{
			PipelineID: "9003",
			Status:     scan.StatusProcessing,
			Details: scan.Details{Findings: []scan.Finding{
				{RuleID: "CVE-2024-2222", Severity: "CRITICAL", Location: "zlib"},
				{RuleID: "CVE-2024-2222", Severity: "HIGH", Location: "vendored/zlib"},
			}},
		})
		require.NoError(t, err)

		stored := repo.get(rec.ID)
		require.Len(t, stored.Details.Findings, 2)
		assert.Equal(t, "CRITICAL", stored.Details.Findings[0].Severity)
	})

	t.Run("unknown pipeline id is rejected", func(t *testing.T) {
		svc := NewWebhookService(newFakeScanRepo(), logger.NewNop())

		_, err := svc.Ingest(context.Background(), DeliveryInput{
			PipelineID: "777",
			Status:     scan.StatusSuccess,
		})
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("late delivery cannot resurrect a cancelled scan", func(t *testing.T) {
		repo := newFakeScanRepo()
		svc := NewWebhookService(repo, logger.NewNop())
		rec := newRunningRecord(t, repo, "9004")
		require.NoError(t, repo.Cancel(context.Background(), rec.ID, "cancelled by user"))

		out, err := svc.Ingest(context.Background(), DeliveryInput{
			PipelineID: "9004",
			Status:     scan.StatusRunning,
		})
		require.NoError(t, err)
		assert.Equal(t, scan.StatusCancelled, out.Status)
		assert.Equal(t, scan.StatusCancelled, repo.get(rec.ID).Status)
	})

	t.Run("completion racing the write keeps the record terminal", func(t *testing.T) {
		repo := newFakeScanRepo()
		rec := newRunningRecord(t, repo, "9005")
		snapshot := repo.get(rec.ID)

		// The reconciler finishes the scan after the ingestor's read
		// but before its write. The guard in the update must win.
		completed, err := repo.CompleteIfRunning(context.Background(), rec.ID, scan.StatusFailed, time.Now())
		require.NoError(t, err)
		require.True(t, completed)

		svc := NewWebhookService(&staleReadScanRepo{fakeScanRepo: repo, snapshot: snapshot}, logger.NewNop())
		out, err := svc.Ingest(context.Background(), DeliveryInput{
			PipelineID: "9005",
			Status:     scan.StatusProcessing,
			Details:    scan.Details{Logs: []string{"late stage"}},
		})
		require.NoError(t, err)

		assert.Equal(t, scan.StatusFailed, out.Status)
		assert.Equal(t, scan.StatusFailed, repo.get(rec.ID).Status)
	})
}

// staleReadScanRepo serves reads from a frozen snapshot while writes
// hit the live store, so a completion can land between the two.
type staleReadScanRepo struct {
	*fakeScanRepo
	snapshot *scan.Record
}

func (r *staleReadScanRepo) GetByPipelineID(_ context.Context, _ string) (*scan.Record, error) {
	cp := *r.snapshot
	return &cp, nil
}
