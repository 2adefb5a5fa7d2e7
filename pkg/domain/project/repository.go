package project

import (
	"context"

	"github.com/visscan/api/pkg/domain/shared"
)

// ServiceWithGroup bundles a scan target with its owning group, the
// shape the dispatcher and scan service need at trigger time.
type ServiceWithGroup struct {
	Service *Service
	Group   *Group
}

// Repository defines the interface for project persistence. The create
// and delete operations are transactional: quota accounting, group
// creation and target creation commit or roll back as one unit.
type Repository interface {
	// CreateServiceTx atomically counts the owner's active scan
	// targets, fails with shared.ErrQuotaExceeded when the count has
	// reached limit before any write, optionally creates the group
	// (when group.ID equals groupID and the group does not exist yet)
	// and creates the service. On any failure no group or service
	// remains.
	CreateServiceTx(ctx context.Context, ownerID shared.ID, group *Group, svc *Service, limit int) error

	// DeleteServiceTx removes a service, its scan history, and its
	// owning group when the group becomes empty, in one transaction.
	DeleteServiceTx(ctx context.Context, serviceID shared.ID) error

	// GetService retrieves a service with its owning group.
	GetService(ctx context.Context, id shared.ID) (*ServiceWithGroup, error)

	// GetGroup retrieves a group by id.
	GetGroup(ctx context.Context, id shared.ID) (*Group, error)

	// FindDuplicateService looks for an existing target with the same
	// normalized repo url, context path and image name owned by the
	// user. Returns nil when no duplicate exists.
	FindDuplicateService(ctx context.Context, ownerID shared.ID, repoURL, contextPath, imageName string) (*ServiceWithGroup, error)

	// CountActiveServices counts scan targets transitively owned by the
	// user through active groups.
	CountActiveServices(ctx context.Context, ownerID shared.ID) (int, error)
}
