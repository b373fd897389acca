package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// HTTPHarvester queries a calendar harvesting service over HTTP. Requests
// carry a bounded timeout and are not retried here: a transient failure
// surfaces as a build error for the one session being processed.
type HTTPHarvester struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPHarvester(baseURL string, timeout time.Duration) *HTTPHarvester {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPHarvester{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type reservationsResponse struct {
	Reservations []Candidate `json:"reservations"`
}

func (h *HTTPHarvester) FindReservations(ctx context.Context, calendarID string, from, to time.Time) ([]Candidate, error) {
	query := url.Values{}
	query.Set("calendar", calendarID)
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/reservations?%s", h.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create harvester request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query calendar harvester: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read harvester response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar harvester returned %d for %s", resp.StatusCode, calendarID)
	}

	var parsed reservationsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode harvester response: %w", err)
	}
	return parsed.Reservations, nil
}
