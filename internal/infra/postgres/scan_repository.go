package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
)

// ScanRepository implements scan.Repository using PostgreSQL.
//
// Every mutation updates only the columns it owns. The dispatcher, the
// webhook ingestor and the reconciler all write the same rows and a
// whole-row UPDATE from any of them would silently drop the others'
// progress.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new ScanRepository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `
	id, service_id, pipeline_id, status, kind, image_tag,
	vuln_critical, vuln_high, vuln_medium, vuln_low,
	details, error_message, image_pushed,
	created_at, started_at, completed_at, updated_at
`

// Create persists a new scan record.
func (r *ScanRepository) Create(ctx context.Context, rec *scan.Record) error {
	details, err := toJSONB(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO scan_records (` + scanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID.String(),
		rec.ServiceID.String(),
		rec.PipelineID,
		string(rec.Status),
		string(rec.Kind),
		rec.ImageTag,
		rec.VulnCritical,
		rec.VulnHigh,
		rec.VulnMedium,
		rec.VulnLow,
		details,
		nullString(rec.ErrorMessage),
		rec.ImagePushed,
		rec.CreatedAt,
		nullTime(rec.StartedAt),
		nullTime(rec.CompletedAt),
		rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("ALREADY_EXISTS", "scan record already exists", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create scan record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by internal id.
func (r *ScanRepository) GetByID(ctx context.Context, id shared.ID) (*scan.Record, error) {
	query := `SELECT ` + scanColumns + ` FROM scan_records WHERE id = $1`
	return r.scanRow(r.db.QueryRowContext(ctx, query, id.String()))
}

// GetByPipelineID retrieves a record by external pipeline id.
func (r *ScanRepository) GetByPipelineID(ctx context.Context, pipelineID string) (*scan.Record, error) {
	query := `SELECT ` + scanColumns + ` FROM scan_records WHERE pipeline_id = $1`
	return r.scanRow(r.db.QueryRowContext(ctx, query, pipelineID))
}

// List lists records matching the filter, newest first.
func (r *ScanRepository) List(ctx context.Context, filter scan.Filter) ([]*scan.Record, error) {
	var conditions []string
	var args []any
	argPos := 1

	addCondition := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argPos))
		args = append(args, val)
		argPos++
	}

	if filter.ServiceID != nil {
		addCondition("service_id = $%d", filter.ServiceID.String())
	}
	if filter.Status != nil {
		addCondition("status = $%d", string(*filter.Status))
	}
	if filter.Kind != nil {
		addCondition("kind = $%d", string(*filter.Kind))
	}
	if filter.OwnerID != nil {
		addCondition(`service_id IN (
			SELECT s.id FROM scan_services s
			JOIN scan_groups g ON g.id = s.group_id
			WHERE g.owner_id = $%d)`, filter.OwnerID.String())
	}

	query := `SELECT ` + scanColumns + ` FROM scan_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan records: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListRunning returns RUNNING records carrying a real pipeline id.
// Rows still on a WAITING-* placeholder have not been dispatched and
// have nothing external to reconcile against.
func (r *ScanRepository) ListRunning(ctx context.Context) ([]*scan.Record, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM scan_records
		WHERE status = $1 AND pipeline_id NOT LIKE $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(scan.StatusRunning), scan.PlaceholderPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list running scan records: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// MarkRunning transitions a record to RUNNING and stamps StartedAt.
func (r *ScanRepository) MarkRunning(ctx context.Context, id shared.ID) error {
	query := `
		UPDATE scan_records
		SET status = $1, started_at = $2, updated_at = $2
		WHERE id = $3
	`
	return r.execOne(ctx, query, string(scan.StatusRunning), time.Now(), id.String())
}

// SetPipelineID persists the external pipeline id after a successful trigger.
func (r *ScanRepository) SetPipelineID(ctx context.Context, id shared.ID, pipelineID string) error {
	query := `
		UPDATE scan_records
		SET pipeline_id = $1, updated_at = $2
		WHERE id = $3
	`
	return r.execOne(ctx, query, pipelineID, time.Now(), id.String())
}

// MarkTriggerFailed records a terminal FAILED_TRIGGER with detail.
func (r *ScanRepository) MarkTriggerFailed(ctx context.Context, id shared.ID, errMsg string) error {
	query := `
		UPDATE scan_records
		SET status = $1, error_message = $2, completed_at = $3, updated_at = $3
		WHERE id = $4
	`
	return r.execOne(ctx, query, string(scan.StatusFailedTrigger), errMsg, time.Now(), id.String())
}

// ApplyDelivery applies a webhook/reconciler update. Only the fields
// set on the update touch their columns. The terminal guard sits in
// the WHERE clause, so a completion landing between the caller's read
// and this write leaves the row terminal and reports false instead of
// pulling it back in flight. Redelivering the same terminal status
// still passes so its details can merge.
func (r *ScanRepository) ApplyDelivery(ctx context.Context, id shared.ID, upd scan.DeliveryUpdate) (bool, error) {
	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{string(upd.Status), time.Now()}
	argPos := 3

	addSet := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argPos))
		args = append(args, val)
		argPos++
	}

	if upd.VulnCritical != nil {
		addSet("vuln_critical", *upd.VulnCritical)
	}
	if upd.VulnHigh != nil {
		addSet("vuln_high", *upd.VulnHigh)
	}
	if upd.VulnMedium != nil {
		addSet("vuln_medium", *upd.VulnMedium)
	}
	if upd.VulnLow != nil {
		addSet("vuln_low", *upd.VulnLow)
	}
	if upd.Details != nil {
		details, err := toJSONB(upd.Details)
		if err != nil {
			return false, fmt.Errorf("failed to marshal details: %w", err)
		}
		addSet("details", details)
	}
	if upd.CompletedAt != nil {
		addSet("completed_at", *upd.CompletedAt)
	}

	query := fmt.Sprintf(
		"UPDATE scan_records SET %s WHERE id = $%d AND (status = $1 OR NOT (status = ANY($%d)))",
		strings.Join(sets, ", "), argPos, argPos+1)
	args = append(args, id.String(), pq.Array(terminalStatusStrings()))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply delivery: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

func terminalStatusStrings() []string {
	terminals := scan.TerminalStatuses()
	out := make([]string, len(terminals))
	for i, s := range terminals {
		out[i] = string(s)
	}
	return out
}

// CompleteIfRunning sets a terminal status only while the record is
// still in flight. The status guard lives in the WHERE clause so the
// check and the write are one atomic statement; whichever of the
// webhook and the poller runs second matches zero rows.
func (r *ScanRepository) CompleteIfRunning(ctx context.Context, id shared.ID, status scan.Status, completedAt time.Time) (bool, error) {
	query := `
		UPDATE scan_records
		SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`

	result, err := r.db.ExecContext(ctx, query,
		string(status), completedAt, id.String(),
		string(scan.StatusRunning), string(scan.StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete scan record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Cancel marks a record CANCELLED with the given message.
func (r *ScanRepository) Cancel(ctx context.Context, id shared.ID, message string) error {
	query := `
		UPDATE scan_records
		SET status = $1, error_message = $2, completed_at = $3, updated_at = $3
		WHERE id = $4
	`
	return r.execOne(ctx, query, string(scan.StatusCancelled), message, time.Now(), id.String())
}

// SetImagePushed flips the published flag after the release gate
// plays the held job.
func (r *ScanRepository) SetImagePushed(ctx context.Context, id shared.ID) error {
	query := `
		UPDATE scan_records
		SET image_pushed = TRUE, updated_at = $1
		WHERE id = $2
	`
	return r.execOne(ctx, query, time.Now(), id.String())
}

// Delete removes a record. Deleting an absent record is not an error.
func (r *ScanRepository) Delete(ctx context.Context, id shared.ID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scan_records WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete scan record: %w", err)
	}
	return nil
}

// execOne runs an UPDATE expected to match exactly one row.
func (r *ScanRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update scan record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return shared.NewDomainError("NOT_FOUND", "scan record not found", shared.ErrNotFound)
	}
	return nil
}

func (r *ScanRepository) scanRow(row *sql.Row) (*scan.Record, error) {
	rec, err := scanRecordFrom(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.NewDomainError("NOT_FOUND", "scan record not found", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get scan record: %w", err)
	}
	return rec, nil
}

func (r *ScanRepository) scanRows(rows *sql.Rows) ([]*scan.Record, error) {
	var records []*scan.Record
	for rows.Next() {
		rec, err := scanRecordFrom(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scan record rows: %w", err)
	}
	return records, nil
}

// scanRecordFrom maps one row onto a scan.Record using the column
// order of scanColumns.
func scanRecordFrom(scanFn func(dest ...any) error) (*scan.Record, error) {
	var (
		rec         scan.Record
		id          string
		serviceID   string
		status      string
		kind        string
		details     []byte
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := scanFn(
		&id,
		&serviceID,
		&rec.PipelineID,
		&status,
		&kind,
		&rec.ImageTag,
		&rec.VulnCritical,
		&rec.VulnHigh,
		&rec.VulnMedium,
		&rec.VulnLow,
		&details,
		&errMsg,
		&rec.ImagePushed,
		&rec.CreatedAt,
		&startedAt,
		&completedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ID, err = shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid record id: %w", err)
	}
	rec.ServiceID, err = shared.IDFromString(serviceID)
	if err != nil {
		return nil, fmt.Errorf("invalid service id: %w", err)
	}
	rec.Status = scan.Status(status)
	rec.Kind = scan.Kind(kind)
	rec.ErrorMessage = nullStringValue(errMsg)
	rec.StartedAt = nullTimeValue(startedAt)
	rec.CompletedAt = nullTimeValue(completedAt)

	if err := fromJSONB(details, &rec.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal details: %w", err)
	}
	return &rec, nil
}
