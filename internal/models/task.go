package models

import (
	"time"
)

// ScrapeType selects which record shape a task extracts
type ScrapeType string

const (
	ScrapeTypePerson    ScrapeType = "person"
	ScrapeTypeCompany   ScrapeType = "company"
	ScrapeTypeJob       ScrapeType = "job"
	ScrapeTypeJobSearch ScrapeType = "job_search"
)

// Task is one unit of scrape work: a single URL (or one search page) routed
// through a named session pool. Consumed once, producing a Result or a
// classified failure.
type Task struct {
	ID              string     `json:"id"`
	ScrapeType      ScrapeType `json:"scrape_type" yaml:"scrape_type" validate:"required,oneof=person company job job_search"`
	Target          string     `json:"target" yaml:"target"`
	SearchTerm      string     `json:"search_term,omitempty" yaml:"search_term"`
	SessionPoolName string     `json:"session_pool_name" yaml:"session_pool_name" validate:"required"`
	GetContacts     bool       `json:"get_contacts,omitempty" yaml:"get_contacts"`
	GetEmployees    bool       `json:"get_employees,omitempty" yaml:"get_employees"`
	Attempt         int        `json:"attempt"`
	EnqueuedAt      time.Time  `json:"enqueued_at"`
}

// TaskInput is the run-level input document (JSON or YAML), following the
// shape the actor accepts: one scrape type applied to a list of targets.
type TaskInput struct {
	ScrapeType    ScrapeType `json:"scrapeType" yaml:"scrapeType" validate:"required,oneof=person company job job_search"`
	URLs          []string   `json:"urls" yaml:"urls"`
	JobSearchTerm string     `json:"jobSearchTerm,omitempty" yaml:"jobSearchTerm"`
	MaxResults    int        `json:"maxResults,omitempty" yaml:"maxResults"`
	GetContacts   bool       `json:"getContacts,omitempty" yaml:"getContacts"`
	GetEmployees  bool       `json:"getEmployees,omitempty" yaml:"getEmployees"`
}

// RunProgress is persisted after every task so an operator can watch a run
// and interrupted runs report honest counts.
type RunProgress struct {
	RunID      string     `json:"run_id"`
	ScrapeType ScrapeType `json:"scrape_type"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Status     string     `json:"status"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
