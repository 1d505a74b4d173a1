package ai

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"

	"video-analysis-pipeline/internal/domain"
)

// permanentStatus reports HTTP statuses for which retrying the same segment
// cannot help. Auth and quota errors stay transient so a fixed key or a
// refilled quota lets the job go through on a later attempt.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone,
		http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// classify wraps provider errors that must not be retried with domain.ErrPermanent.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) && permanentStatus(oaErr.StatusCode) {
		return fmt.Errorf("%s: %v: %w", provider, err, domain.ErrPermanent)
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) && permanentStatus(gErr.Code) {
		return fmt.Errorf("%s: %v: %w", provider, err, domain.ErrPermanent)
	}
	return fmt.Errorf("%s: %w", provider, err)
}
