package interfaces

import (
	"context"

	"github.com/ternarybob/venator/internal/models"
)

// Extractor turns raw page content into the typed record a task asked for.
// Extraction problems are per-field issues recorded on the result; an error
// return means the page could not be interpreted at all. Extractor errors are
// never fed into proxy or session health.
type Extractor interface {
	Extract(ctx context.Context, task *models.Task, rawContent string) (*models.Result, error)
}
