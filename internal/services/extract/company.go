package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/venator/internal/models"
)

// extractCompany parses a company page into a company record. The about
// section's definition list carries most structured fields.
func (s *Service) extractCompany(doc *goquery.Document, task *models.Task, issues *issueList) *models.CompanyRecord {
	company := &models.CompanyRecord{
		URL:  task.Target,
		Name: firstText(doc, issues, "name", "h1.org-top-card-summary__title", "h1"),
	}

	if about := doc.Find("p.org-about-us-organization-description__text, section.org-about-module p").First(); about.Length() > 0 {
		company.About = s.markdown(about)
	}

	// Overview fields render as dt/dd pairs.
	doc.Find("dl div, dl").Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(cleanText(dt.Text()))
		value := cleanText(dt.NextFiltered("dd").Text())
		if value == "" {
			return
		}
		switch {
		case strings.Contains(label, "website"):
			company.Website = value
		case strings.Contains(label, "phone"):
			company.Phone = value
		case strings.Contains(label, "headquarters"):
			company.Headquarters = value
		case strings.Contains(label, "founded"):
			company.Founded = value
		case strings.Contains(label, "industry"):
			company.Industry = value
		case strings.Contains(label, "company type"):
			company.CompanyType = value
		case strings.Contains(label, "company size"):
			company.CompanySize = value
		case strings.Contains(label, "specialties"):
			company.Specialties = value
		}
	})

	if company.Website == "" {
		if href, ok := doc.Find("a.org-top-card-primary-actions__action, a[data-tracking-control-name*='website']").First().Attr("href"); ok {
			company.Website = href
		}
	}

	company.Headcount = parseHeadcount(optionalText(doc,
		"a.org-top-card-secondary-content__see-all-link",
		"span.org-top-card-summary-info-list__info-item"))

	doc.Find("section.org-affiliated-pages li, ul.org-view-page-carousel li").Each(func(_ int, item *goquery.Selection) {
		page := models.ShowcasePage{
			Name:      cleanText(item.Find("h3, .artdeco-entity-lockup__title").First().Text()),
			Followers: cleanText(item.Find(".artdeco-entity-lockup__subtitle").First().Text()),
		}
		if href, ok := item.Find("a").First().Attr("href"); ok {
			page.URL = href
		}
		if page.Name != "" {
			company.ShowcasePages = append(company.ShowcasePages, page)
		}
	})

	if task.GetEmployees {
		doc.Find("section.org-people li, .org-people-profile-card").Each(func(_ int, item *goquery.Selection) {
			employee := models.Contact{
				Name:       cleanText(item.Find(".org-people-profile-card__profile-title, .artdeco-entity-lockup__title").First().Text()),
				Occupation: cleanText(item.Find(".artdeco-entity-lockup__subtitle").First().Text()),
			}
			if href, ok := item.Find("a[href*='/in/']").First().Attr("href"); ok {
				employee.URL = href
			}
			if employee.Name != "" {
				company.Employees = append(company.Employees, employee)
			}
		})
		if len(company.Employees) == 0 {
			issues.add("employees", "no entries found")
		}
	}

	return company
}

// parseHeadcount pulls the number out of strings like "10,001+ employees" or
// "View all 2,300 employees".
func parseHeadcount(raw string) int {
	if raw == "" {
		return 0
	}

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		} else if digits.Len() > 0 && r != ',' {
			break
		}
	}
	n, _ := strconv.Atoi(digits.String())
	return n
}
