// HTTP adapter for the remote record store contract.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/models"
)

// HTTPConfig holds remote record service connection configuration.
type HTTPConfig struct {
	BaseURL string
	Token   string // bearer token, optional

	// RequestsPerSecond throttles outgoing calls client-side; zero
	// disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// HTTPRecordStore implements RemoteStore over a JSON REST service.
type HTTPRecordStore struct {
	config     *HTTPConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPRecordStore creates a new HTTPRecordStore.
func NewHTTPRecordStore(config *HTTPConfig) *HTTPRecordStore {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &HTTPRecordStore{
		config:  config,
		limiter: limiter,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// AccountStatus checks remote account/service reachability.
func (c *HTTPRecordStore) AccountStatus(ctx context.Context) (AccountStatus, error) {
	var payload struct {
		Status AccountStatus `json:"status"`
	}
	if err := c.get(ctx, "/v1/status", nil, &payload); err != nil {
		if errors.Is(err, errors.ErrPermission) {
			return AccountRestricted, nil
		}
		return AccountUnknown, err
	}
	if payload.Status == "" {
		return AccountUnknown, nil
	}
	return payload.Status, nil
}

// SaveRecords writes a batch of records. The response carries one
// result per record so partial failures map onto individual entities.
func (c *HTTPRecordStore) SaveRecords(ctx context.Context, records []Record, policy SavePolicy) ([]SaveResult, error) {
	reqBody := struct {
		Records []Record   `json:"records"`
		Policy  SavePolicy `json:"policy"`
	}{Records: records, Policy: policy}

	var respBody struct {
		Results []struct {
			UUID      models.UUID `json:"uuid"`
			RecordID  string      `json:"record_id"`
			ChangeTag string      `json:"change_tag"`
			ErrorCode string      `json:"error_code,omitempty"`
			Error     string      `json:"error,omitempty"`
		} `json:"results"`
	}

	if err := c.post(ctx, "/v1/records/batch", reqBody, &respBody); err != nil {
		return nil, err
	}

	results := make([]SaveResult, len(respBody.Results))
	for i, r := range respBody.Results {
		results[i] = SaveResult{
			UUID:      r.UUID,
			RecordID:  r.RecordID,
			ChangeTag: r.ChangeTag,
		}
		if r.ErrorCode != "" {
			results[i].Err = errors.New(errors.ErrorCode(r.ErrorCode), r.Error)
		}
	}
	return results, nil
}

// QueryRecords pages through records modified after the given time.
func (c *HTTPRecordStore) QueryRecords(ctx context.Context, modifiedAfter time.Time, cursor Cursor, limit int) ([]Record, Cursor, error) {
	params := url.Values{}
	params.Set("modified_after", strconv.FormatInt(modifiedAfter.Unix(), 10))
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", string(cursor))
	}

	var respBody struct {
		Records    []Record `json:"records"`
		NextCursor Cursor   `json:"next_cursor,omitempty"`
	}
	if err := c.get(ctx, "/v1/records", params, &respBody); err != nil {
		return nil, "", err
	}
	return respBody.Records, respBody.NextCursor, nil
}

// FetchRecord retrieves a single record by remote identifier.
func (c *HTTPRecordStore) FetchRecord(ctx context.Context, recordID string) (*Record, error) {
	var rec Record
	if err := c.get(ctx, "/v1/records/"+url.PathEscape(recordID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Subscribe registers a change subscription; push delivery itself is
// handled by a collaborator.
func (c *HTTPRecordStore) Subscribe(ctx context.Context, predicate string) (SubscriptionID, error) {
	reqBody := struct {
		Predicate string `json:"predicate"`
	}{Predicate: predicate}

	var respBody struct {
		SubscriptionID SubscriptionID `json:"subscription_id"`
	}
	if err := c.post(ctx, "/v1/subscriptions", reqBody, &respBody); err != nil {
		return "", err
	}
	return respBody.SubscriptionID, nil
}

func (c *HTTPRecordStore) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.config.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}
	return c.do(req, out)
}

func (c *HTTPRecordStore) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to marshal request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPRecordStore) do(req *http.Request, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return errors.Wrap(errors.ErrSyncCancelled, "request abandoned", err)
		}
	}

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrNetworkFailure, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to decode response", err)
	}
	return nil
}

// statusError maps HTTP statuses onto the sync error taxonomy.
func statusError(status int, body string) error {
	msg := fmt.Sprintf("remote returned status %d: %s", status, body)
	switch {
	case status == http.StatusUnauthorized:
		return errors.New(errors.ErrAuthRequired, msg)
	case status == http.StatusForbidden:
		return errors.New(errors.ErrPermission, msg)
	case status == http.StatusNotFound:
		return errors.New(errors.ErrUnknownItem, msg)
	case status == http.StatusGone:
		// The change cursor is no longer valid server-side.
		return errors.New(errors.ErrTokenExpired, msg)
	case status == http.StatusConflict:
		return errors.New(errors.ErrServerRejected, msg)
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrRateLimited, msg)
	case status == http.StatusInsufficientStorage:
		return errors.New(errors.ErrQuotaExceeded, msg)
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return errors.New(errors.ErrServiceUnavailable, msg)
	case status >= 500:
		return errors.New(errors.ErrInternal, msg)
	default:
		return errors.New(errors.ErrServerRejected, msg)
	}
}
