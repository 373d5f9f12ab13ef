package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Client places calls through the Twilio REST API.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithAPIBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(accountSID, authToken string, opts ...ClientOption) *Client {
	client := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    DefaultAPIBaseURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type CallRequest struct {
	// To is the E.164 number to dial.
	To string
	// From is the Twilio number the call comes from.
	From string
	// TwiMLURL is fetched by Twilio once the call is answered.
	TwiMLURL string
	// Record asks Twilio to record the call.
	Record bool
}

type Call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// CreateCall dials request.To and points the call at request.TwiMLURL.
func (c *Client) CreateCall(ctx context.Context, request CallRequest) (*Call, error) {
	ctx, span := tracer.Start(ctx, "create twilio call")
	defer span.End()

	if !strings.HasPrefix(request.To, "+") {
		return nil, fmt.Errorf("phone number must be in E.164 format, got %q", request.To)
	}

	form := url.Values{}
	form.Set("To", request.To)
	form.Set("From", request.From)
	form.Set("Url", request.TwiMLURL)
	if request.Record {
		form.Set("Record", strconv.FormatBool(true))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr != nil || apiErr.Message == "" {
			err = fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		} else {
			err = apiErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var call Call
	if err := json.Unmarshal(body, &call); err != nil {
		return nil, fmt.Errorf("error unmarshalling call: %w", err)
	}
	span.SetAttributes(attribute.String("call.sid", call.SID))
	logger.Info("outbound call created", "call_sid", call.SID, "status", call.Status)
	return &call, nil
}
