package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/venator/internal/models"
)

// extractPerson parses a profile page into a person record. Selector sets
// carry the current layout first and older layouts as fallbacks; profile
// markup changes often enough that single selectors rot quickly.
func (s *Service) extractPerson(doc *goquery.Document, task *models.Task, issues *issueList) *models.PersonRecord {
	person := &models.PersonRecord{
		URL:  task.Target,
		Name: firstText(doc, issues, "name", "h1.text-heading-xlarge", ".pv-text-details__left-panel h1", "h1"),
	}

	person.Location = optionalText(doc,
		"span.text-body-small.inline.t-black--light.break-words",
		".pv-text-details__left-panel .text-body-small")
	person.JobTitle = optionalText(doc,
		"div.text-body-medium.break-words",
		".pv-text-details__left-panel .text-body-medium")

	if about := doc.Find("section#about div.display-flex.ph5.pv3, section.pv-about-section").First(); about.Length() > 0 {
		person.About = s.markdown(about)
	}

	person.OpenToWork = doc.Find(".pv-open-to-carousel, [class*='open-to-work']").Length() > 0

	person.Experiences = s.extractExperiences(doc, issues)
	person.Educations = s.extractEducations(doc)

	if len(person.Experiences) > 0 {
		person.Company = person.Experiences[0].Company
		if person.JobTitle == "" {
			person.JobTitle = person.Experiences[0].PositionTitle
		}
	}

	if task.GetContacts {
		person.Contacts = extractContacts(doc)
	}

	return person
}

func (s *Service) extractExperiences(doc *goquery.Document, issues *issueList) []models.Experience {
	experiences := make([]models.Experience, 0)

	doc.Find("section#experience li.artdeco-list__item, section.experience-section li").Each(func(_ int, item *goquery.Selection) {
		exp := models.Experience{
			PositionTitle: cleanText(item.Find("div.display-flex.align-items-center span[aria-hidden='true']").First().Text()),
			Company:       cleanText(item.Find("span.t-14.t-normal span[aria-hidden='true']").First().Text()),
		}
		if exp.PositionTitle == "" {
			exp.PositionTitle = cleanText(item.Find("h3").First().Text())
		}

		// Company strings render as "Acme Corp · Full-time".
		if idx := strings.Index(exp.Company, "·"); idx >= 0 {
			exp.Company = cleanText(exp.Company[:idx])
		}

		dates := cleanText(item.Find("span.t-14.t-normal.t-black--light span[aria-hidden='true']").First().Text())
		exp.FromDate, exp.ToDate, exp.Duration = splitDateRange(dates)

		exp.Location = cleanText(item.Find("span.t-14.t-normal.t-black--light span[aria-hidden='true']").Eq(1).Text())
		exp.Description = cleanText(item.Find("div.inline-show-more-text").First().Text())

		if href, ok := item.Find("a[href*='/company/']").First().Attr("href"); ok {
			exp.ProfileURL = href
		}

		if exp.PositionTitle != "" || exp.Company != "" {
			experiences = append(experiences, exp)
		}
	})

	if len(experiences) == 0 {
		issues.add("experiences", "no entries found")
	}
	return experiences
}

func (s *Service) extractEducations(doc *goquery.Document) []models.Education {
	educations := make([]models.Education, 0)

	doc.Find("section#education li.artdeco-list__item, section.education-section li").Each(func(_ int, item *goquery.Selection) {
		edu := models.Education{
			Institution: cleanText(item.Find("div.display-flex.align-items-center span[aria-hidden='true']").First().Text()),
			Degree:      cleanText(item.Find("span.t-14.t-normal span[aria-hidden='true']").First().Text()),
		}

		dates := cleanText(item.Find("span.t-14.t-normal.t-black--light span[aria-hidden='true']").First().Text())
		edu.FromDate, edu.ToDate, _ = splitDateRange(dates)
		edu.Description = cleanText(item.Find("div.inline-show-more-text").First().Text())

		if edu.Institution != "" {
			educations = append(educations, edu)
		}
	})

	return educations
}

func extractContacts(doc *goquery.Document) []models.Contact {
	contacts := make([]models.Contact, 0)

	doc.Find("section[data-view-name='profile-connections'] li, .mn-connection-card").Each(func(_ int, item *goquery.Selection) {
		contact := models.Contact{
			Name:       cleanText(item.Find(".mn-connection-card__name, span[aria-hidden='true']").First().Text()),
			Occupation: cleanText(item.Find(".mn-connection-card__occupation").First().Text()),
		}
		if href, ok := item.Find("a[href*='/in/']").First().Attr("href"); ok {
			contact.URL = href
		}
		if contact.Name != "" {
			contacts = append(contacts, contact)
		}
	})

	return contacts
}

// splitDateRange splits "Jan 2020 - Present · 4 yrs" into its parts.
func splitDateRange(raw string) (from, to, duration string) {
	if raw == "" {
		return "", "", ""
	}

	if idx := strings.Index(raw, "·"); idx >= 0 {
		duration = cleanText(raw[idx+1:])
		raw = raw[:idx]
	}

	parts := strings.SplitN(raw, "-", 2)
	from = cleanText(parts[0])
	if len(parts) > 1 {
		to = cleanText(parts[1])
	}
	return from, to, duration
}
