package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/venator/internal/models"
)

// extractJob parses a job posting page into a job record. The description
// keeps its formatting as markdown.
func (s *Service) extractJob(doc *goquery.Document, task *models.Task, issues *issueList) *models.JobRecord {
	job := &models.JobRecord{
		URL:   task.Target,
		Title: firstText(doc, issues, "title", "h1.job-details-jobs-unified-top-card__job-title", "h1.top-card-layout__title", "h1"),
	}

	job.Company = optionalText(doc,
		"div.job-details-jobs-unified-top-card__company-name a",
		"a.topcard__org-name-link")
	job.Location = optionalText(doc,
		"div.job-details-jobs-unified-top-card__primary-description-container span.tvm__text",
		"span.topcard__flavor--bullet")
	job.PostedDate = optionalText(doc,
		"span.posted-time-ago__text",
		"span.jobs-unified-top-card__posted-date")
	job.ApplicantCount = optionalText(doc,
		"span.num-applicants__caption",
		"span.jobs-unified-top-card__applicant-count")

	if desc := doc.Find("div.jobs-description__content, div.show-more-less-html__markup").First(); desc.Length() > 0 {
		job.Description = s.markdown(desc)
	} else {
		issues.add("description", "no matching element")
	}

	job.Benefits = optionalText(doc, "div.jobs-unified-description__salary-info, div.salary")

	return job
}

// extractJobListings parses one page of job search results into listing
// rows. Row-level gaps are tolerated; a row without a title and URL is
// dropped rather than recorded half-empty.
func (s *Service) extractJobListings(doc *goquery.Document, issues *issueList) []models.JobListing {
	listings := make([]models.JobListing, 0)

	doc.Find("ul.jobs-search__results-list li, li.jobs-search-results__list-item").Each(func(_ int, item *goquery.Selection) {
		listing := models.JobListing{
			Title:    cleanText(item.Find("h3.base-search-card__title, a.job-card-list__title").First().Text()),
			Company:  cleanText(item.Find("h4.base-search-card__subtitle, .job-card-container__primary-description").First().Text()),
			Location: cleanText(item.Find("span.job-search-card__location, .job-card-container__metadata-item").First().Text()),
		}
		if href, ok := item.Find("a.base-card__full-link, a.job-card-list__title").First().Attr("href"); ok {
			listing.URL = href
		}
		listing.Recommended = item.Find(".job-card-container__footer-job-state, [class*='promoted']").Length() > 0

		if listing.Title != "" && listing.URL != "" {
			listings = append(listings, listing)
		}
	})

	if len(listings) == 0 {
		issues.add("job_listings", "no rows found")
	}
	return listings
}
