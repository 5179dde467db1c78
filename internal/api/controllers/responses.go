package controllers

import "github.com/SzilBalazs/bctools/internal/domain"

type ErrorResponse struct {
	Error string `json:"error"`
}

type SourcesResponse struct {
	Default string          `json:"default"`
	Sources []domain.Source `json:"sources"`
}

type RunsResponse struct {
	Runs  []*domain.Run `json:"runs"`
	Total int           `json:"total"`
}

type DatagenRequest struct {
	Total   *int64 `json:"total"`
	Workers *int   `json:"workers"`
}
