package pandaclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/gridedge/harvester/internal/common/util"
	"github.com/gridedge/harvester/internal/jobfetcher/configuration"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

const (
	getJobPath           = "getJob"
	getResourceTypesPath = "getResourceTypes"

	tokenFilePrefix = "file:"
)

// FetchRequest asks the central scheduler for up to NJobs jobs for one site.
type FetchRequest struct {
	SiteName         string
	Node             string
	SourceLabel      string
	ComputingElement string
	NJobs            int
	// Extra form fields, e.g. resourceType
	Criteria map[string]string
}

// StatusError is returned when the server answers with a non-200 HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("StatusCode=%d %s", e.Code, e.Body)
}

// Client talks to the central scheduler's HTTPS API.
type Client struct {
	baseURL     string
	schedulerID string
	httpClient  *http.Client
	attempts    uint
	delay       time.Duration
}

// NewClient builds a client authenticating with either a client certificate or a bearer token.
func NewClient(config configuration.PandaConfig, agentId string) (*Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.CaCert != "" {
		pem, err := os.ReadFile(config.CaCert)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", config.CaCert)
		}
		tlsConfig.RootCAs = pool
	}

	headers := map[string]string{"Accept": "application/json"}
	var transport http.RoundTripper
	switch config.AuthType {
	case configuration.AuthTypeOidc:
		if config.AuthToken == "" {
			return nil, errors.New("oidc authentication requires an auth token")
		}
		if config.AuthOrigin != "" {
			headers["Origin"] = config.AuthOrigin
		}
		transport = &oauth2.Transport{
			Source: tokenSource(config.AuthToken),
			Base:   &http.Transport{TLSClientConfig: tlsConfig},
		}
	case configuration.AuthTypeX509, "":
		if config.CertFile != "" {
			cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		transport = &http.Transport{TLSClientConfig: tlsConfig}
	default:
		return nil, errors.Errorf("unknown auth type %q", config.AuthType)
	}

	return newClient(config, agentId, &http.Client{
		Timeout:   config.Timeout,
		Transport: &headerTransport{headers: headers, base: transport},
	}), nil
}

func newClient(config configuration.PandaConfig, agentId string, httpClient *http.Client) *Client {
	attempts := config.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	return &Client{
		baseURL:     strings.TrimSuffix(config.UrlSSL, "/"),
		schedulerID: model.SchedulerID(agentId),
		httpClient:  httpClient,
		attempts:    attempts,
		delay:       config.RetryDelay,
	}
}

// GetJobs returns the jobs handed out by the server. A nil error means the server accepted the request,
// even if it returned no jobs. The request is sent once: a failed answer may still have assigned jobs
// to this agent and repeating it would hand out more.
func (c *Client) GetJobs(ctx context.Context, req FetchRequest) ([]model.RawJob, error) {
	form := url.Values{}
	form.Set("siteName", req.SiteName)
	form.Set("node", req.Node)
	form.Set("prodSourceLabel", req.SourceLabel)
	form.Set("computingElement", req.ComputingElement)
	form.Set("nJobs", strconv.Itoa(req.NJobs))
	form.Set("schedulerID", c.schedulerID)
	for k, v := range req.Criteria {
		form.Set(k, v)
	}

	var response struct {
		StatusCode  int             `json:"StatusCode"`
		Jobs        json.RawMessage `json:"jobs"`
		ErrorDialog string          `json:"errorDialog"`
	}
	if err := c.post(ctx, getJobPath, form, &response, 1); err != nil {
		return nil, err
	}
	if response.StatusCode != 0 {
		return nil, serverError(response.StatusCode, response.ErrorDialog)
	}
	if len(response.Jobs) == 0 {
		return []model.RawJob{}, nil
	}
	return model.DecodeRawJobs(response.Jobs)
}

// GetResourceTypes returns the resource type definitions known to the server.
func (c *Client) GetResourceTypes(ctx context.Context) ([]resourcetype.Definition, error) {
	var response struct {
		StatusCode    int                       `json:"StatusCode"`
		ResourceTypes []resourcetype.Definition `json:"ResourceTypes"`
		ErrorDialog   string                    `json:"errorDialog"`
	}
	if err := c.post(ctx, getResourceTypesPath, url.Values{}, &response, c.attempts); err != nil {
		return nil, err
	}
	if response.StatusCode != 0 {
		return nil, serverError(response.StatusCode, response.ErrorDialog)
	}
	return response.ResourceTypes, nil
}

func serverError(statusCode int, dialog string) error {
	if dialog != "" {
		return errors.New(dialog)
	}
	return errors.Errorf("StatusCode=%d", statusCode)
}

// post sends the form and decodes the JSON answer into out. Transport failures and 5xx responses are
// retried until attempts requests have been made.
func (c *Client) post(ctx context.Context, path string, form url.Values, out interface{}, attempts uint) error {
	requestId := util.NewRequestId()
	logger := log.WithField("requestId", requestId).WithField("path", path)
	target := c.baseURL + "/" + path
	start := time.Now()

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
			if err != nil {
				return errors.WithStack(err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return errors.WithStack(err)
			}
			defer resp.Body.Close()

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return errors.WithStack(err)
			}
			if resp.StatusCode != http.StatusOK {
				return &StatusError{Code: resp.StatusCode, Body: string(body)}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).Debugf("attempt %d failed", n+1)
		}),
	)
	logger.Debugf("POST %s took %s", target, time.Since(start))
	if err != nil {
		return errors.WithMessagef(err, "failed to post to %s", target)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "invalid response from %s", target)
	}
	return nil
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	return true
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// tokenSource serves a literal token, or re-reads the token file on every call when token is file:<path>.
func tokenSource(token string) oauth2.TokenSource {
	if strings.HasPrefix(token, tokenFilePrefix) {
		return fileTokenSource(strings.TrimPrefix(token, tokenFilePrefix))
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

type fileTokenSource string

func (f fileTokenSource) Token() (*oauth2.Token, error) {
	contents, err := os.ReadFile(string(f))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &oauth2.Token{AccessToken: strings.TrimSpace(string(contents))}, nil
}
