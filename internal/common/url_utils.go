package common

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/venator/internal/models"
)

// NormalizeTargetURL canonicalizes a task target: lowercases the host, drops
// query string and fragment, and trims a trailing slash. Tracking parameters
// on shared profile links would otherwise split identical targets.
func NormalizeTargetURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse target url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("target url %q must be http(s)", raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("target url %q has no host", raw)
	}

	parsed.Host = strings.ToLower(parsed.Host)
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return parsed.String(), nil
}

// pathMarkers maps each scrape type to the path segment its targets carry.
var pathMarkers = map[models.ScrapeType]string{
	models.ScrapeTypePerson:  "/in/",
	models.ScrapeTypeCompany: "/company/",
	models.ScrapeTypeJob:     "/jobs/view/",
}

// ValidateTargetURL checks that a target URL matches the path shape expected
// for the scrape type. job_search tasks have no target URL and always pass.
func ValidateTargetURL(scrapeType models.ScrapeType, target string) error {
	marker, ok := pathMarkers[scrapeType]
	if !ok {
		return nil
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("failed to parse target url %q: %w", target, err)
	}
	if !strings.Contains(parsed.Path+"/", marker) {
		return fmt.Errorf("target %q does not look like a %s url (expected %q in path)", target, scrapeType, marker)
	}
	return nil
}
