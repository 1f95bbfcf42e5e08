package session

import (
	"time"

	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/modelclient"
	"github.com/sells-group/compintel/internal/resilience"
)

// FailedPage records a page that could not be extracted or merged, so a
// caller can requeue it in a later session.
type FailedPage struct {
	URL        string    `json:"url"`
	Competitor string    `json:"competitor"`
	PageType   string    `json:"page_type"`
	Error      string    `json:"error"`
	ErrorType  string    `json:"error_type"` // "transient" or "permanent"
	FailedAt   time.Time `json:"failed_at"`
}

// CanRetry reports whether the failure is worth retrying in a later session.
func (p FailedPage) CanRetry() bool {
	return p.ErrorType == "transient"
}

// classifyPageError maps a page failure to transient or permanent.
// Rate-limited calls are transient even after in-session retries: the limit
// clears on its own.
func classifyPageError(err error) string {
	if modelclient.IsKind(err, modelclient.KindRateLimited) ||
		modelclient.IsKind(err, modelclient.KindCircuitOpen) {
		return "transient"
	}
	return resilience.ClassifyError(err)
}

func newFailedPage(page model.PageRecord, err error) FailedPage {
	return FailedPage{
		URL:        page.URL,
		Competitor: page.Competitor,
		PageType:   page.PageType,
		Error:      err.Error(),
		ErrorType:  classifyPageError(err),
		FailedAt:   time.Now().UTC(),
	}
}
