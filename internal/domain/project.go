package domain

import "time"

// Project describes a deployable repository.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RepoURL   string    `json:"repo_url"`
	Subdomain string    `json:"subdomain"`
	CreatedAt time.Time `json:"created_at"`
}
