// Package tokenclient fetches room grants from the token service.
package tokenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 10 * time.Second
	maxBody        = 64 << 10
)

type Request struct {
	RoomName string                 `json:"roomName"`
	Identity string                 `json:"identity"`
	Metadata string                 `json:"metadata,omitempty"`
	Kind     domain.ParticipantKind `json:"kind,omitempty"`
}

type Response struct {
	Grant        string    `json:"grant"`
	TransportURL string    `json:"transportUrl"`
	RoomName     string    `json:"roomName"`
	Identity     string    `json:"identity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ServiceError is a non-2xx answer from the token service.
type ServiceError struct {
	Status        int      `json:"-"`
	Message       string   `json:"error"`
	Field         string   `json:"field"`
	MissingFields []string `json:"missingFields"`
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "token service: %d", e.Status)
	if e.Message != "" {
		b.WriteString(" " + e.Message)
	}
	if e.Field != "" {
		b.WriteString(" (" + e.Field + ")")
	}
	if len(e.MissingFields) > 0 {
		b.WriteString(" missing " + strings.Join(e.MissingFields, ", "))
	}
	return b.String()
}

type Client struct {
	URL  string
	HTTP *http.Client
}

func New(url string) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: defaultTimeout}}
}

// Fetch asks for a grant. 4xx answers are validation errors, 5xx are
// configuration errors, and transport failures are connection errors.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	const op = "fetch grant"
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.E(op, errs.ErrValidation, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errs.E(op, errs.ErrConfiguration, err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(hreq)
	if err != nil {
		return nil, errs.E(op, errs.ErrConnection, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errs.E(op, errs.ErrConnection, err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &ServiceError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, se); err != nil {
			se.Message = http.StatusText(resp.StatusCode)
		}
		log.Warn().Str("module", "tokenclient").Int("status", resp.StatusCode).Str("error", se.Message).Msg("grant refused")
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errs.E(op, errs.ErrConnection, se)
		case resp.StatusCode >= 500:
			return nil, errs.E(op, errs.ErrConfiguration, se)
		default:
			return nil, errs.E(op, errs.ErrValidation, se)
		}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.E(op, errs.ErrProtocolAnomaly, err)
	}
	if out.Grant == "" {
		return nil, errs.E(op, errs.ErrProtocolAnomaly, errors.New("response carries no grant"))
	}
	return &out, nil
}
