package models

import "time"

// Experience is one position entry on a person profile
type Experience struct {
	PositionTitle string `json:"position_title"`
	Company       string `json:"company"`
	Location      string `json:"location,omitempty"`
	FromDate      string `json:"from_date,omitempty"`
	ToDate        string `json:"to_date,omitempty"`
	Duration      string `json:"duration,omitempty"`
	Description   string `json:"description,omitempty"`
	ProfileURL    string `json:"profile_url,omitempty"`
}

// Education is one education entry on a person profile
type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree,omitempty"`
	FromDate    string `json:"from_date,omitempty"`
	ToDate      string `json:"to_date,omitempty"`
	Description string `json:"description,omitempty"`
}

// Contact is a first-degree connection surfaced from a person profile
type Contact struct {
	Name       string `json:"name"`
	Occupation string `json:"occupation,omitempty"`
	URL        string `json:"url,omitempty"`
}

// PersonRecord is the extracted person profile
type PersonRecord struct {
	URL         string       `json:"url"`
	Name        string       `json:"name"`
	Location    string       `json:"location,omitempty"`
	About       string       `json:"about,omitempty"`
	OpenToWork  bool         `json:"open_to_work"`
	Company     string       `json:"company,omitempty"`
	JobTitle    string       `json:"job_title,omitempty"`
	Experiences []Experience `json:"experiences"`
	Educations  []Education  `json:"educations"`
	Contacts    []Contact    `json:"contacts,omitempty"`
}

// ShowcasePage is a sub-brand page listed on a company profile
type ShowcasePage struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Followers string `json:"followers,omitempty"`
}

// CompanyRecord is the extracted company profile
type CompanyRecord struct {
	URL           string         `json:"url"`
	Name          string         `json:"name"`
	About         string         `json:"about,omitempty"`
	Website       string         `json:"website,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	Headquarters  string         `json:"headquarters,omitempty"`
	Founded       string         `json:"founded,omitempty"`
	Industry      string         `json:"industry,omitempty"`
	CompanyType   string         `json:"company_type,omitempty"`
	CompanySize   string         `json:"company_size,omitempty"`
	Specialties   string         `json:"specialties,omitempty"`
	Headcount     int            `json:"headcount,omitempty"`
	ShowcasePages []ShowcasePage `json:"showcase_pages,omitempty"`
	Employees     []Contact      `json:"employees,omitempty"`
}

// JobRecord is the extracted job posting
type JobRecord struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Company        string `json:"company,omitempty"`
	Location       string `json:"location,omitempty"`
	PostedDate     string `json:"posted_date,omitempty"`
	ApplicantCount string `json:"applicant_count,omitempty"`
	Description    string `json:"description,omitempty"`
	Benefits       string `json:"benefits,omitempty"`
}

// JobListing is one row of a job search results page
type JobListing struct {
	Title       string `json:"title"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Result wraps the typed record produced by a task together with its
// provenance. Exactly one of the record fields is set, matching Type.
type Result struct {
	ID          string         `json:"id" badgerhold:"key"`
	TaskID      string         `json:"task_id"`
	Type        ScrapeType     `json:"type"`
	Target      string         `json:"target"`
	Person      *PersonRecord  `json:"person,omitempty"`
	Company     *CompanyRecord `json:"company,omitempty"`
	Job         *JobRecord     `json:"job,omitempty"`
	JobListings []JobListing   `json:"job_listings,omitempty"`
	// FieldIssues records per-field extraction problems. These never affect
	// proxy or session health.
	FieldIssues []string  `json:"field_issues,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// TaskFailure is the structured failure returned for a task that exhausted
// its retries or hit a terminal error. Returned alongside successful results,
// never aborting sibling tasks.
type TaskFailure struct {
	TaskID   string     `json:"task_id"`
	Type     ScrapeType `json:"type"`
	Target   string     `json:"target"`
	Error    string     `json:"error"`
	Attempts int        `json:"attempts"`
	FailedAt time.Time  `json:"failed_at"`
}
