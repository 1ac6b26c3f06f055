package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/models"
)

const personHTML = `
<html><body>
  <h1 class="text-heading-xlarge">Jane Doe</h1>
  <div class="text-body-medium break-words">Staff Engineer</div>
  <span class="text-body-small inline t-black--light break-words">Berlin, Germany</span>
  <section id="about"><div class="display-flex ph5 pv3"><p>Building <strong>reliable</strong> systems.</p></div></section>
  <section id="experience">
    <li class="artdeco-list__item">
      <div class="display-flex align-items-center"><span aria-hidden="true">Staff Engineer</span></div>
      <span class="t-14 t-normal"><span aria-hidden="true">Acme Corp &middot; Full-time</span></span>
      <span class="t-14 t-normal t-black--light"><span aria-hidden="true">Jan 2020 - Present &middot; 4 yrs</span></span>
      <a href="https://www.linkedin.com/company/acme"></a>
    </li>
  </section>
  <section id="education">
    <li class="artdeco-list__item">
      <div class="display-flex align-items-center"><span aria-hidden="true">TU Berlin</span></div>
      <span class="t-14 t-normal"><span aria-hidden="true">MSc Computer Science</span></span>
      <span class="t-14 t-normal t-black--light"><span aria-hidden="true">2012 - 2014</span></span>
    </li>
  </section>
</body></html>`

const companyHTML = `
<html><body>
  <h1 class="org-top-card-summary__title">Acme Corp</h1>
  <p class="org-about-us-organization-description__text">We make <em>everything</em>.</p>
  <dl>
    <div><dt>Website</dt><dd>https://acme.example</dd></div>
    <div><dt>Industry</dt><dd>Manufacturing</dd></div>
    <div><dt>Company size</dt><dd>10,001+ employees</dd></div>
    <div><dt>Headquarters</dt><dd>Springfield, USA</dd></div>
    <div><dt>Founded</dt><dd>1947</dd></div>
  </dl>
  <a class="org-top-card-secondary-content__see-all-link">View all 12,345 employees</a>
</body></html>`

const jobHTML = `
<html><body>
  <h1 class="job-details-jobs-unified-top-card__job-title">Senior Go Engineer</h1>
  <div class="job-details-jobs-unified-top-card__company-name"><a>Acme Corp</a></div>
  <span class="posted-time-ago__text">2 weeks ago</span>
  <span class="num-applicants__caption">87 applicants</span>
  <div class="jobs-description__content"><p>You will own the <b>platform</b>.</p></div>
</body></html>`

const jobSearchHTML = `
<html><body>
  <ul class="jobs-search__results-list">
    <li>
      <a class="base-card__full-link" href="https://www.linkedin.com/jobs/view/111"></a>
      <h3 class="base-search-card__title">Backend Engineer</h3>
      <h4 class="base-search-card__subtitle">Acme Corp</h4>
      <span class="job-search-card__location">Remote</span>
    </li>
    <li>
      <a class="base-card__full-link" href="https://www.linkedin.com/jobs/view/222"></a>
      <h3 class="base-search-card__title">Platform Engineer</h3>
      <h4 class="base-search-card__subtitle">Globex</h4>
      <span class="job-search-card__location">Berlin</span>
    </li>
    <li><span>sponsored filler row without title or link</span></li>
  </ul>
</body></html>`

func extractOne(t *testing.T, scrapeType models.ScrapeType, html string) *models.Result {
	t.Helper()
	svc := NewService(arbor.NewLogger())
	result, err := svc.Extract(context.Background(), &models.Task{
		ID:         "task_1",
		ScrapeType: scrapeType,
		Target:     "https://www.linkedin.com/in/janedoe",
	}, html)
	require.NoError(t, err)
	return result
}

func TestExtract_Person(t *testing.T) {
	result := extractOne(t, models.ScrapeTypePerson, personHTML)

	require.NotNil(t, result.Person)
	p := result.Person
	assert.Equal(t, "Jane Doe", p.Name)
	assert.Equal(t, "Staff Engineer", p.JobTitle)
	assert.Equal(t, "Berlin, Germany", p.Location)
	assert.Contains(t, p.About, "reliable")

	require.Len(t, p.Experiences, 1)
	assert.Equal(t, "Staff Engineer", p.Experiences[0].PositionTitle)
	assert.Equal(t, "Acme Corp", p.Experiences[0].Company, "company type suffix must be stripped")
	assert.Equal(t, "Jan 2020", p.Experiences[0].FromDate)
	assert.Equal(t, "Present", p.Experiences[0].ToDate)
	assert.Equal(t, "4 yrs", p.Experiences[0].Duration)

	require.Len(t, p.Educations, 1)
	assert.Equal(t, "TU Berlin", p.Educations[0].Institution)
	assert.Equal(t, "MSc Computer Science", p.Educations[0].Degree)

	assert.Equal(t, "Acme Corp", p.Company, "current company derives from the latest experience")
}

func TestExtract_Person_MissingFieldsRecorded(t *testing.T) {
	result := extractOne(t, models.ScrapeTypePerson, "<html><body><div>nothing useful</div></body></html>")

	require.NotNil(t, result.Person)
	assert.Empty(t, result.Person.Name)
	assert.NotEmpty(t, result.FieldIssues, "missing fields must be reported, not silently dropped")
}

func TestExtract_Company(t *testing.T) {
	result := extractOne(t, models.ScrapeTypeCompany, companyHTML)

	require.NotNil(t, result.Company)
	c := result.Company
	assert.Equal(t, "Acme Corp", c.Name)
	assert.Contains(t, c.About, "everything")
	assert.Equal(t, "https://acme.example", c.Website)
	assert.Equal(t, "Manufacturing", c.Industry)
	assert.Equal(t, "10,001+ employees", c.CompanySize)
	assert.Equal(t, "Springfield, USA", c.Headquarters)
	assert.Equal(t, "1947", c.Founded)
	assert.Equal(t, 12345, c.Headcount)
}

func TestExtract_Job(t *testing.T) {
	result := extractOne(t, models.ScrapeTypeJob, jobHTML)

	require.NotNil(t, result.Job)
	j := result.Job
	assert.Equal(t, "Senior Go Engineer", j.Title)
	assert.Equal(t, "Acme Corp", j.Company)
	assert.Equal(t, "2 weeks ago", j.PostedDate)
	assert.Equal(t, "87 applicants", j.ApplicantCount)
	assert.Contains(t, j.Description, "platform")
}

func TestExtract_JobSearch(t *testing.T) {
	result := extractOne(t, models.ScrapeTypeJobSearch, jobSearchHTML)

	require.Len(t, result.JobListings, 2, "rows without title and link are dropped")
	assert.Equal(t, "Backend Engineer", result.JobListings[0].Title)
	assert.Equal(t, "https://www.linkedin.com/jobs/view/111", result.JobListings[0].URL)
	assert.Equal(t, "Globex", result.JobListings[1].Company)
}

func TestExtract_UnknownType(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	_, err := svc.Extract(context.Background(), &models.Task{ID: "task_1", ScrapeType: "album"}, "<html></html>")
	assert.Error(t, err)
}

func TestSplitDateRange(t *testing.T) {
	tests := []struct {
		raw      string
		from     string
		to       string
		duration string
	}{
		{"Jan 2020 - Present · 4 yrs", "Jan 2020", "Present", "4 yrs"},
		{"2012 - 2014", "2012", "2014", ""},
		{"Mar 2023", "Mar 2023", "", ""},
		{"", "", "", ""},
	}

	for _, tt := range tests {
		from, to, duration := splitDateRange(tt.raw)
		assert.Equal(t, tt.from, from)
		assert.Equal(t, tt.to, to)
		assert.Equal(t, tt.duration, duration)
	}
}

func TestParseHeadcount(t *testing.T) {
	assert.Equal(t, 12345, parseHeadcount("View all 12,345 employees"))
	assert.Equal(t, 10001, parseHeadcount("10,001+ employees"))
	assert.Equal(t, 0, parseHeadcount(""))
	assert.Equal(t, 0, parseHeadcount("employees"))
}
