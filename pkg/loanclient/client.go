/**
 * @description
 * Client for fetching loan repayment terms from the loan service's internal API.
 */
package loanclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

// Client is a client for the loan service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new loan service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetLoanTerms returns the terms of a loan, or domain.ErrLoanTermsNotFound when
// the loan service does not know it.
func (c *Client) GetLoanTerms(ctx context.Context, loanID string) (*domain.LoanTerms, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("loan service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/internal/loans/%s/terms", c.baseURL, url.PathEscape(loanID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-Internal-API-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to loan service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("loan %s: %w", loanID, domain.ErrLoanTermsNotFound)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("loan service returned error status %d", resp.StatusCode)
	}

	var terms domain.LoanTerms
	if err := json.NewDecoder(resp.Body).Decode(&terms); err != nil {
		return nil, fmt.Errorf("failed to decode loan terms: %w", err)
	}
	if terms.LoanID == "" {
		terms.LoanID = loanID
	}
	if terms.LoanID != loanID {
		return nil, fmt.Errorf("loan service returned terms for %s, expected %s", terms.LoanID, loanID)
	}

	return &terms, nil
}
