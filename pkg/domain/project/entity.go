// Package project holds the repository grouping and scan target model.
// A Group owns the git repository and its credentials; each Service
// under it is one buildable scan target (context path + image name).
package project

import (
	"strings"
	"time"

	"github.com/visscan/api/pkg/domain/shared"
)

// Group is a repository grouping. Credentials are stored encrypted and
// decrypted only at dispatch time.
type Group struct {
	ID        shared.ID
	OwnerID   shared.ID
	Name      string
	RepoURL   string
	IsPrivate bool
	GitUser   string
	// GitToken is the AES-GCM encrypted git token, base64 encoded.
	GitToken  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewGroup creates an active group for an owner.
func NewGroup(ownerID shared.ID, name, repoURL string, isPrivate bool) (*Group, error) {
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "group name is required", shared.ErrValidation)
	}
	if repoURL == "" {
		return nil, shared.NewDomainError("VALIDATION", "repo url is required", shared.ErrValidation)
	}

	now := time.Now()
	return &Group{
		ID:        shared.NewID(),
		OwnerID:   ownerID,
		Name:      name,
		RepoURL:   repoURL,
		IsPrivate: isPrivate,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NormalizeRepoURL strips the scheme, trailing slash and .git suffix so
// equivalent spellings of the same repository compare equal.
func NormalizeRepoURL(raw string) string {
	url := strings.TrimSpace(raw)
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	return strings.ToLower(url)
}

// Service is one scan target inside a group: a build context plus the
// image it produces. Registry credentials are stored encrypted.
type Service struct {
	ID          shared.ID
	GroupID     shared.ID
	Name        string
	ContextPath string
	ImageName   string
	DockerUser  string
	// DockerToken is the AES-GCM encrypted registry token, base64 encoded.
	DockerToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewService creates a scan target inside a group.
func NewService(groupID shared.ID, name, contextPath, imageName string) (*Service, error) {
	if groupID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "group id is required", shared.ErrValidation)
	}
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "service name is required", shared.ErrValidation)
	}
	if imageName == "" {
		return nil, shared.NewDomainError("VALIDATION", "image name is required", shared.ErrValidation)
	}
	if contextPath == "" {
		contextPath = "."
	}

	now := time.Now()
	return &Service{
		ID:          shared.NewID(),
		GroupID:     groupID,
		Name:        name,
		ContextPath: contextPath,
		ImageName:   imageName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
