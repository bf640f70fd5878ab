package feeschedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the government non-covered fee-schedule API. Two
// operations matter for price resolution: the per-institution detail
// listing and the min/max summary listing.
type Client interface {
	LookupDetail(ctx context.Context, req DetailRequest) (*DetailResponse, error)
	LookupSummary(ctx context.Context, req SummaryRequest) (*SummaryResponse, error)
}

// DetailRequest filters the detail listing by institution and fee code.
type DetailRequest struct {
	InstitutionName string
	Code            string
	PageNo          int
	NumOfRows       int
}

// DetailItem is one priced line item at one institution.
type DetailItem struct {
	Code            string `json:"npayCd"`
	ItemName        string `json:"npayKorNm"`
	InstitutionName string `json:"yadmNm"`
	Amount          *int64 `json:"curAmt"`
	EffectiveFrom   string `json:"adtFrDd,omitempty"`
	EffectiveTo     string `json:"adtEndDd,omitempty"`
}

// DetailResponse is the detail listing page.
type DetailResponse struct {
	Items      []DetailItem
	TotalCount int
}

// SummaryRequest filters the summary listing by fee code.
type SummaryRequest struct {
	Code            string
	InstitutionName string
	PageNo          int
	NumOfRows       int
}

// SummaryItem is the nationwide min/max price range for a fee code.
type SummaryItem struct {
	Code      string `json:"npayCd"`
	ItemName  string `json:"npayKorNm"`
	MinAmount *int64 `json:"minPrc"`
	MaxAmount *int64 `json:"maxPrc"`
}

// SummaryResponse is the summary listing page.
type SummaryResponse struct {
	Items      []SummaryItem
	TotalCount int
}

// Upstream result codes, as documented by the fee-schedule service.
const (
	resultCodeOK            = "00"
	ResultCodeNoData        = "03"
	ResultCodeHTTPError     = "04"
	ResultCodeServiceError  = "05"
	ResultCodeInvalidParams = "20"
	ResultCodeRateLimited   = "22"
	ResultCodeUnregistered  = "30"
	ResultCodeUnauthorized  = "31"
	ResultCodeUnknown       = "99"
)

// ErrorClass buckets upstream failures for fallback decisions.
type ErrorClass string

const (
	// ClassTransient covers temporary outages, timeouts and rate limits;
	// the caller may retry later or fall back.
	ClassTransient ErrorClass = "transient"

	// ClassNoData means the code is unknown upstream.
	ClassNoData ErrorClass = "no-data"

	// ClassPermanent means the request itself is malformed or the key is
	// rejected; retrying will not help.
	ClassPermanent ErrorClass = "permanent"
)

// APIError is a typed failure from the fee-schedule service.
type APIError struct {
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fee-schedule api error %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("fee-schedule api error %s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Class maps the upstream result code to a fallback class.
func (e *APIError) Class() ErrorClass {
	switch e.Code {
	case ResultCodeNoData:
		return ClassNoData
	case ResultCodeInvalidParams, ResultCodeUnregistered, ResultCodeUnauthorized:
		return ClassPermanent
	default:
		// HTTP errors, service errors, rate limits and anything
		// unrecognized are worth retrying later.
		return ClassTransient
	}
}

// Classify buckets any error from a lookup call. Non-API errors
// (timeouts, connection resets) are transient.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class()
	}
	return ClassTransient
}

// envelope mirrors the upstream response wrapper.
type envelope struct {
	Header struct {
		ResultCode string `json:"resultCode"`
		ResultMsg  string `json:"resultMsg"`
	} `json:"header"`
	Body struct {
		Items      json.RawMessage `json:"items"`
		TotalCount int             `json:"totalCount"`
	} `json:"body"`
}

// HTTPClient is the default fee-schedule client over HTTP/JSON.
type HTTPClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewClient creates a fee-schedule client. callTimeout bounds each
// request; callers can tighten it further through the context.
func NewClient(baseURL, serviceKey string, callTimeout time.Duration) *HTTPClient {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{
			Timeout: callTimeout,
		},
	}
}

// LookupDetail fetches per-institution priced line items.
func (c *HTTPClient) LookupDetail(ctx context.Context, req DetailRequest) (*DetailResponse, error) {
	query := c.baseQuery(req.PageNo, req.NumOfRows)
	if req.InstitutionName != "" {
		query.Set("yadmNm", req.InstitutionName)
	}
	if req.Code != "" {
		query.Set("npayCd", req.Code)
	}

	var items []DetailItem
	total, err := c.getItems(ctx, "/getNonPaymentItemHospDtlList", query, &items)
	if err != nil {
		return nil, err
	}
	return &DetailResponse{Items: items, TotalCount: total}, nil
}

// LookupSummary fetches the nationwide min/max range for a fee code.
func (c *HTTPClient) LookupSummary(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	query := c.baseQuery(req.PageNo, req.NumOfRows)
	if req.Code != "" {
		query.Set("itemCd", req.Code)
	}
	if req.InstitutionName != "" {
		query.Set("yadmNm", req.InstitutionName)
	}

	var items []SummaryItem
	total, err := c.getItems(ctx, "/getNonPaymentItemHospList2", query, &items)
	if err != nil {
		return nil, err
	}
	return &SummaryResponse{Items: items, TotalCount: total}, nil
}

func (c *HTTPClient) baseQuery(pageNo, numOfRows int) url.Values {
	if pageNo <= 0 {
		pageNo = 1
	}
	if numOfRows <= 0 {
		numOfRows = 100
	}
	query := url.Values{}
	query.Set("serviceKey", c.serviceKey)
	query.Set("pageNo", strconv.Itoa(pageNo))
	query.Set("numOfRows", strconv.Itoa(numOfRows))
	query.Set("_type", "json")
	return query
}

func (c *HTTPClient) getItems(ctx context.Context, path string, query url.Values, items any) (int, error) {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, &APIError{Code: ResultCodeUnknown, Message: "failed to build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, &APIError{Code: ResultCodeHTTPError, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &APIError{Code: ResultCodeHTTPError, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := ResultCodeHTTPError
		if resp.StatusCode == http.StatusTooManyRequests {
			code = ResultCodeRateLimited
		}
		return 0, &APIError{Code: code, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, &APIError{Code: ResultCodeUnknown, Message: "failed to decode response", Err: err}
	}

	if env.Header.ResultCode != "" && env.Header.ResultCode != resultCodeOK {
		return 0, &APIError{Code: env.Header.ResultCode, Message: env.Header.ResultMsg}
	}

	// An empty or missing item list is a no-data result, not a page of zero.
	if len(env.Body.Items) == 0 || string(env.Body.Items) == "null" || string(env.Body.Items) == `""` {
		return 0, &APIError{Code: ResultCodeNoData, Message: "no matching items"}
	}

	if err := json.Unmarshal(env.Body.Items, items); err != nil {
		return 0, &APIError{Code: ResultCodeUnknown, Message: "failed to decode items", Err: err}
	}

	return env.Body.TotalCount, nil
}
