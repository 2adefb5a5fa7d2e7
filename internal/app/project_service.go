package app

import (
	"context"
	"fmt"

	"github.com/visscan/api/pkg/crypto"
	"github.com/visscan/api/pkg/domain/project"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
)

// ProjectService manages repository groups and scan targets behind the
// per-user quota.
type ProjectService struct {
	projectRepo project.Repository
	encryptor   crypto.Encryptor
	maxServices int
	logger      *logger.Logger
}

// NewProjectService creates a new ProjectService.
func NewProjectService(projectRepo project.Repository, encryptor crypto.Encryptor, maxServices int, log *logger.Logger) *ProjectService {
	return &ProjectService{
		projectRepo: projectRepo,
		encryptor:   encryptor,
		maxServices: maxServices,
		logger:      log.With("component", "project_service"),
	}
}

// RegisterTargetInput registers one scan target, creating its group on
// first use. Tokens arrive in plaintext and are encrypted before they
// touch the store.
type RegisterTargetInput struct {
	OwnerID     shared.ID
	GroupName   string
	RepoURL     string
	IsPrivate   bool
	GitUser     string
	GitToken    string
	ServiceName string
	ContextPath string
	ImageName   string
	DockerUser  string
	DockerToken string
}

// RegisterTarget creates a scan target under the owner's quota. The
// quota check and both inserts commit atomically; a quota rejection
// writes nothing. An identical target already registered by the owner
// is rejected before the transaction.
func (s *ProjectService) RegisterTarget(ctx context.Context, in RegisterTargetInput) (*project.ServiceWithGroup, error) {
	dup, err := s.projectRepo.FindDuplicateService(ctx, in.OwnerID, in.RepoURL, in.ContextPath, in.ImageName)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate target: %w", err)
	}
	if dup != nil {
		return nil, shared.NewDomainError("ALREADY_EXISTS",
			"this repository path and image is already registered", shared.ErrAlreadyExists)
	}

	grp, err := project.NewGroup(in.OwnerID, in.GroupName, in.RepoURL, in.IsPrivate)
	if err != nil {
		return nil, err
	}
	grp.GitUser = in.GitUser
	if in.GitToken != "" {
		grp.GitToken, err = s.encryptor.EncryptString(in.GitToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt git token: %w", err)
		}
	}

	svc, err := project.NewService(grp.ID, in.ServiceName, in.ContextPath, in.ImageName)
	if err != nil {
		return nil, err
	}
	svc.DockerUser = in.DockerUser
	if in.DockerToken != "" {
		svc.DockerToken, err = s.encryptor.EncryptString(in.DockerToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt registry token: %w", err)
		}
	}

	if err := s.projectRepo.CreateServiceTx(ctx, in.OwnerID, grp, svc, s.maxServices); err != nil {
		if shared.IsQuotaExceeded(err) {
			s.logger.Info("target registration rejected by quota",
				"owner_id", in.OwnerID,
				"limit", s.maxServices,
			)
		}
		return nil, err
	}

	s.logger.Info("scan target registered",
		"owner_id", in.OwnerID,
		"service_id", svc.ID,
		"group_id", grp.ID,
	)
	return &project.ServiceWithGroup{Service: svc, Group: grp}, nil
}

// RemoveTarget deletes a scan target with its scan history, and its
// group when the group becomes empty.
func (s *ProjectService) RemoveTarget(ctx context.Context, serviceID shared.ID) error {
	if err := s.projectRepo.DeleteServiceTx(ctx, serviceID); err != nil {
		return err
	}
	s.logger.Info("scan target removed", "service_id", serviceID)
	return nil
}

// GetTarget retrieves a scan target with its owning group.
func (s *ProjectService) GetTarget(ctx context.Context, serviceID shared.ID) (*project.ServiceWithGroup, error) {
	return s.projectRepo.GetService(ctx, serviceID)
}

// QuotaUsage reports how many of the owner's quota slots are used.
type QuotaUsage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// GetQuotaUsage returns the owner's current quota consumption.
func (s *ProjectService) GetQuotaUsage(ctx context.Context, ownerID shared.ID) (QuotaUsage, error) {
	used, err := s.projectRepo.CountActiveServices(ctx, ownerID)
	if err != nil {
		return QuotaUsage{}, fmt.Errorf("failed to count targets: %w", err)
	}
	return QuotaUsage{Used: used, Limit: s.maxServices}, nil
}
