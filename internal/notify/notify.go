// Package notify posts contact requests to the SigV4-protected relay endpoint.
package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpoint = "https://l3i2ysl3fp2qkei5cu4nxtguuu0nlqxt.lambda-url.us-east-1.on.aws/"
	DefaultService  = "lambda"
	DefaultRegion   = "us-east-1"
)

// Message is the JSON body sent to the relay. PhoneNumber is dropped from
// the payload when empty.
type Message struct {
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Occupation  string `json:"occupation"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Response is the decoded relay reply, or {"error": "..."} on failure.
type Response map[string]any

// ErrorMessage returns the failure message carried by r, if any.
func (r Response) ErrorMessage() string {
	if r == nil {
		return ""
	}
	if msg, ok := r["error"].(string); ok {
		return msg
	}
	return ""
}

// TransportError reports a failed relay call.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("notification relay returned status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("notification relay returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("notification relay: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Option configures a Sender.
type Option func(*Sender)

type Sender struct {
	endpoint    string
	service     string
	region      string
	credentials aws.Credentials
	signer      *v4.Signer
	httpClient  *http.Client
	now         func() time.Time
}

func WithEndpoint(url string) Option {
	return func(s *Sender) {
		if url != "" {
			s.endpoint = url
		}
	}
}

// WithScope overrides the signing service name and region.
func WithScope(service, region string) Option {
	return func(s *Sender) {
		if service != "" {
			s.service = service
		}
		if region != "" {
			s.region = region
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		s.httpClient = client
	}
}

// WithClock sets the signing time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		s.now = now
	}
}

// New builds a Sender signing with the given access key pair.
func New(accessKeyID, secretAccessKey string, opts ...Option) *Sender {
	s := &Sender{
		endpoint: DefaultEndpoint,
		service:  DefaultService,
		region:   DefaultRegion,
		credentials: aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "portfolio-agent",
		},
		signer:     v4.NewSigner(),
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}
	return s
}

// Send signs and posts msg. It never returns an error: failures are folded
// into a Response carrying an "error" field.
func (s *Sender) Send(ctx context.Context, msg Message) Response {
	resp, err := s.send(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", s.endpoint).Msg("notification failed")
		return Response{"error": err.Error()}
	}
	log.Info().Str("email", msg.Email).Msg("notification delivered")
	return resp
}

func (s *Sender) send(ctx context.Context, msg Message) (Response, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	sum := sha256.Sum256(payload)
	if err := s.signer.SignHTTP(ctx, s.credentials, req, hex.EncodeToString(sum[:]), s.service, s.region, s.now()); err != nil {
		return nil, fmt.Errorf("sign notification: %w", err)
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &TransportError{StatusCode: httpResp.StatusCode, Err: errors.New(string(bytes.TrimSpace(body)))}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &TransportError{StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out == nil {
		out = Response{}
	}
	return out, nil
}
