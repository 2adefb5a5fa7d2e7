package main

import (
	"github.com/visscan/api/internal/infra/postgres"
)

// Repositories holds all repository instances.
type Repositories struct {
	Scan    *postgres.ScanRepository
	Project *postgres.ProjectRepository
}

// NewRepositories initializes all repositories.
func NewRepositories(db *postgres.DB) *Repositories {
	return &Repositories{
		Scan:    postgres.NewScanRepository(db),
		Project: postgres.NewProjectRepository(db),
	}
}
