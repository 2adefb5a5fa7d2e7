package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/visscan/api/internal/infra/gitlab"
	"github.com/visscan/api/internal/infra/jobs"
	"github.com/visscan/api/pkg/domain/project"
	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
)

// In-memory repository fakes shared by the service tests. They mirror
// the SQL implementations' semantics including the CompleteIfRunning
// guard and the pre-write quota check.

type fakeScanRepo struct {
	mu      sync.Mutex
	records map[string]*scan.Record
}

func newFakeScanRepo() *fakeScanRepo {
	return &fakeScanRepo{records: make(map[string]*scan.Record)}
}

func (r *fakeScanRepo) put(rec *scan.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.ID.String()] = &cp
}

func (r *fakeScanRepo) get(id shared.ID) *scan.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id.String()]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (r *fakeScanRepo) Create(_ context.Context, rec *scan.Record) error {
	r.put(rec)
	return nil
}

func (r *fakeScanRepo) GetByID(_ context.Context, id shared.ID) (*scan.Record, error) {
	if rec := r.get(id); rec != nil {
		return rec, nil
	}
	return nil, shared.NewDomainError("NOT_FOUND", "scan record not found", shared.ErrNotFound)
}

func (r *fakeScanRepo) GetByPipelineID(_ context.Context, pipelineID string) (*scan.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.PipelineID == pipelineID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, shared.NewDomainError("NOT_FOUND", "scan record not found", shared.ErrNotFound)
}

func (r *fakeScanRepo) List(_ context.Context, filter scan.Filter) ([]*scan.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.Record
	for _, rec := range r.records {
		if filter.ServiceID != nil && !rec.ServiceID.Equals(*filter.ServiceID) {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *fakeScanRepo) ListRunning(_ context.Context) ([]*scan.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.Record
	for _, rec := range r.records {
		if rec.Status == scan.StatusRunning && rec.HasRealPipelineID() {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeScanRepo) mutate(id shared.ID, fn func(*scan.Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id.String()]
	if !ok {
		return shared.NewDomainError("NOT_FOUND", "scan record not found", shared.ErrNotFound)
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *fakeScanRepo) MarkRunning(_ context.Context, id shared.ID) error {
	return r.mutate(id, func(rec *scan.Record) {
		now := time.Now()
		rec.Status = scan.StatusRunning
		rec.StartedAt = &now
	})
}

func (r *fakeScanRepo) SetPipelineID(_ context.Context, id shared.ID, pipelineID string) error {
	return r.mutate(id, func(rec *scan.Record) { rec.PipelineID = pipelineID })
}

func (r *fakeScanRepo) MarkTriggerFailed(_ context.Context, id shared.ID, errMsg string) error {
	return r.mutate(id, func(rec *scan.Record) {
		now := time.Now()
		rec.Status = scan.StatusFailedTrigger
		rec.ErrorMessage = errMsg
		rec.CompletedAt = &now
	})
}

func (r *fakeScanRepo) ApplyDelivery(_ context.Context, id shared.ID, upd scan.DeliveryUpdate) (bool, error) {
	applied := false
	err := r.mutate(id, func(rec *scan.Record) {
		// Mirrors the SQL guard: a different terminal status wins.
		if rec.Status.IsTerminal() && upd.Status != rec.Status {
			return
		}
		applied = true
		rec.Status = upd.Status
		if upd.VulnCritical != nil {
			rec.VulnCritical = *upd.VulnCritical
		}
		if upd.VulnHigh != nil {
			rec.VulnHigh = *upd.VulnHigh
		}
		if upd.VulnMedium != nil {
			rec.VulnMedium = *upd.VulnMedium
		}
		if upd.VulnLow != nil {
			rec.VulnLow = *upd.VulnLow
		}
		if upd.Details != nil {
			rec.Details = *upd.Details
		}
		if upd.CompletedAt != nil {
			rec.CompletedAt = upd.CompletedAt
		}
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return applied, nil
}

func (r *fakeScanRepo) CompleteIfRunning(_ context.Context, id shared.ID, status scan.Status, completedAt time.Time) (bool, error) {
	applied := false
	err := r.mutate(id, func(rec *scan.Record) {
		if rec.Status != scan.StatusRunning && rec.Status != scan.StatusProcessing {
			return
		}
		rec.Status = status
		rec.CompletedAt = &completedAt
		applied = true
	})
	return applied, err
}

func (r *fakeScanRepo) Cancel(_ context.Context, id shared.ID, message string) error {
	return r.mutate(id, func(rec *scan.Record) {
		now := time.Now()
		rec.Status = scan.StatusCancelled
		rec.ErrorMessage = message
		rec.CompletedAt = &now
	})
}

func (r *fakeScanRepo) SetImagePushed(_ context.Context, id shared.ID) error {
	return r.mutate(id, func(rec *scan.Record) { rec.ImagePushed = true })
}

func (r *fakeScanRepo) Delete(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id.String())
	return nil
}

type fakeProjectRepo struct {
	mu       sync.Mutex
	services map[string]*project.ServiceWithGroup
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{services: make(map[string]*project.ServiceWithGroup)}
}

func (r *fakeProjectRepo) add(swg *project.ServiceWithGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[swg.Service.ID.String()] = swg
}

func (r *fakeProjectRepo) CreateServiceTx(_ context.Context, ownerID shared.ID, group *project.Group, svc *project.Service, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, swg := range r.services {
		if swg.Group.OwnerID.Equals(ownerID) && swg.Group.IsActive {
			count++
		}
	}
	if count >= limit {
		return shared.NewDomainError("QUOTA_EXCEEDED", "service limit reached", shared.ErrQuotaExceeded)
	}
	r.services[svc.ID.String()] = &project.ServiceWithGroup{Service: svc, Group: group}
	return nil
}

func (r *fakeProjectRepo) DeleteServiceTx(_ context.Context, serviceID shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[serviceID.String()]; !ok {
		return shared.NewDomainError("NOT_FOUND", "service not found", shared.ErrNotFound)
	}
	delete(r.services, serviceID.String())
	return nil
}

func (r *fakeProjectRepo) GetService(_ context.Context, id shared.ID) (*project.ServiceWithGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if swg, ok := r.services[id.String()]; ok {
		return swg, nil
	}
	return nil, shared.NewDomainError("NOT_FOUND", "service not found", shared.ErrNotFound)
}

func (r *fakeProjectRepo) GetGroup(_ context.Context, id shared.ID) (*project.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, swg := range r.services {
		if swg.Group.ID.Equals(id) {
			return swg.Group, nil
		}
	}
	return nil, shared.NewDomainError("NOT_FOUND", "group not found", shared.ErrNotFound)
}

func (r *fakeProjectRepo) FindDuplicateService(_ context.Context, ownerID shared.ID, repoURL, contextPath, imageName string) (*project.ServiceWithGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, swg := range r.services {
		if swg.Group.OwnerID.Equals(ownerID) &&
			project.NormalizeRepoURL(swg.Group.RepoURL) == project.NormalizeRepoURL(repoURL) &&
			swg.Service.ContextPath == contextPath &&
			swg.Service.ImageName == imageName {
			return swg, nil
		}
	}
	return nil, nil
}

func (r *fakeProjectRepo) CountActiveServices(_ context.Context, ownerID shared.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, swg := range r.services {
		if swg.Group.OwnerID.Equals(ownerID) && swg.Group.IsActive {
			count++
		}
	}
	return count, nil
}

type fakeCI struct {
	mu sync.Mutex

	triggerInputs []gitlab.TriggerInput
	triggerID     string
	triggerErr    error

	statuses  map[string]string
	statusErr error

	cancelled []string
	cancelErr error

	jobs    []gitlab.Job
	jobsErr error

	played  []int64
	playErr error
}

func newFakeCI() *fakeCI {
	return &fakeCI{triggerID: "5555", statuses: make(map[string]string)}
}

func (c *fakeCI) Trigger(_ context.Context, in gitlab.TriggerInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggerInputs = append(c.triggerInputs, in)
	if c.triggerErr != nil {
		return "", c.triggerErr
	}
	return c.triggerID, nil
}

func (c *fakeCI) GetPipelineStatus(_ context.Context, pipelineID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return "", c.statusErr
	}
	return c.statuses[pipelineID], nil
}

func (c *fakeCI) Cancel(_ context.Context, pipelineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, pipelineID)
	return c.cancelErr
}

func (c *fakeCI) ListJobs(_ context.Context, _ string) ([]gitlab.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs, c.jobsErr
}

func (c *fakeCI) PlayJob(_ context.Context, jobID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.played = append(c.played, jobID)
	if c.playErr != nil {
		return "", c.playErr
	}
	return "pending", nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []jobs.ScanDispatchPayload
	err      error
}

func (q *fakeQueue) EnqueueScanDispatch(_ context.Context, payload jobs.ScanDispatchPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, payload)
	return nil
}
