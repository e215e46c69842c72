// Package ledger is the read/write gateway to the authoritative on-chain
// agreement contract. The contract itself is opaque: all access goes through
// the gateway's JSON API, and every call is bounded by a fixed timeout so a
// slow ledger degrades to agreement.ErrLedgerUnavailable, never a hang.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
)

// State is the ledger-owned view of one agreement. It is read-only to this
// system: the ledger is the sole source of truth for status and paid months.
type State struct {
	Status            agreement.Status
	Borrower          string
	Lender            string
	Principal         float64
	AnnualRatePercent float64
	DurationMonths    int
	GraceMonths       int
	MonthlyPayment    float64
	LastPaidMonth     int
	CollateralAmount  float64
	PaidMonths        []int
}

// Terms extracts the immutable agreement terms the ledger reports.
func (s *State) Terms() agreement.Terms {
	return agreement.Terms{
		Principal:         s.Principal,
		AnnualRatePercent: s.AnnualRatePercent,
		DurationMonths:    s.DurationMonths,
		GraceMonths:       s.GraceMonths,
	}
}

// Client is the ledger read/write surface for one agreement reference.
type Client interface {
	ReadState(ctx context.Context, ref string) (*State, error)
	Fund(ctx context.Context, ref string, amount float64) (string, error)
	Repay(ctx context.Context, ref string, month int, amount float64) (string, error)
	ForceDefault(ctx context.Context, ref string) (string, error)
}

// GatewayClient talks to the contract gateway over HTTP.
type GatewayClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// DefaultTimeout bounds every gateway call.
const DefaultTimeout = 5 * time.Second

// NewGatewayClient creates a gateway client. A non-positive timeout falls
// back to DefaultTimeout.
func NewGatewayClient(baseURL string, timeout time.Duration, logger *zap.Logger) *GatewayClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// stateDTO mirrors the gateway wire format. Status arrives as either a
// numeric code or a string depending on the contract call site, so it is
// decoded loosely and run through the total parser.
type stateDTO struct {
	Status            any     `json:"status"`
	Borrower          string  `json:"borrower"`
	Lender            string  `json:"lender"`
	Principal         float64 `json:"principal"`
	AnnualRatePercent float64 `json:"annual_rate_percent"`
	DurationMonths    int     `json:"duration_months"`
	GraceMonths       int     `json:"grace_months"`
	MonthlyPayment    float64 `json:"monthly_payment"`
	LastPaidMonth     int     `json:"last_paid_month"`
	CollateralAmount  float64 `json:"collateral_amount"`
	PaidMonths        []int   `json:"paid_months"`
}

// ReadState reads the authoritative ledger state for an agreement.
func (c *GatewayClient) ReadState(ctx context.Context, ref string) (*State, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/agreements/%s", ref), nil)
	if err != nil {
		return nil, err
	}

	var dto stateDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, fmt.Errorf("%w: malformed gateway response: %v", agreement.ErrLedgerUnavailable, err)
	}

	return &State{
		Status:            agreement.ParseStatus(dto.Status),
		Borrower:          dto.Borrower,
		Lender:            dto.Lender,
		Principal:         dto.Principal,
		AnnualRatePercent: dto.AnnualRatePercent,
		DurationMonths:    dto.DurationMonths,
		GraceMonths:       dto.GraceMonths,
		MonthlyPayment:    dto.MonthlyPayment,
		LastPaidMonth:     dto.LastPaidMonth,
		CollateralAmount:  dto.CollateralAmount,
		PaidMonths:        dto.PaidMonths,
	}, nil
}

// Fund deposits the collateral/principal into the contract. Valid only from
// status INITIALIZED; the ledger enforces this and rejects anything else.
func (c *GatewayClient) Fund(ctx context.Context, ref string, amount float64) (string, error) {
	return c.submit(ctx, fmt.Sprintf("/agreements/%s/fund", ref), map[string]any{
		"amount": amount,
	})
}

// Repay pays one installment. The ledger accepts only the next unpaid month.
func (c *GatewayClient) Repay(ctx context.Context, ref string, month int, amount float64) (string, error) {
	return c.submit(ctx, fmt.Sprintf("/agreements/%s/repay", ref), map[string]any{
		"month":  month,
		"amount": amount,
	})
}

// ForceDefault is the administrative escape hatch. The ledger accepts it
// only once at least one payment cycle has occurred.
func (c *GatewayClient) ForceDefault(ctx context.Context, ref string) (string, error) {
	return c.submit(ctx, fmt.Sprintf("/agreements/%s/default", ref), map[string]any{})
}

type submitResponse struct {
	ExternalRef string `json:"external_ref"`
	TxHash      string `json:"tx_hash"`
}

func (c *GatewayClient) submit(ctx context.Context, path string, payload map[string]any) (string, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", agreement.ErrValidation, err)
	}

	body, err := c.do(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed gateway response: %v", agreement.ErrLedgerUnavailable, err)
	}

	if resp.ExternalRef != "" {
		return resp.ExternalRef, nil
	}
	return resp.TxHash, nil
}

type gatewayError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *GatewayClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agreement.ErrValidation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS failures: all transient.
		return nil, fmt.Errorf("%w: %v", agreement.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agreement.ErrLedgerUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: no contract for reference", agreement.ErrNotFound)
	case resp.StatusCode >= 500 ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("ledger gateway unavailable",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: gateway returned %d", agreement.ErrLedgerUnavailable, resp.StatusCode)
	default:
		var gwErr gatewayError
		msg := fmt.Sprintf("gateway returned %d", resp.StatusCode)
		if err := json.Unmarshal(respBody, &gwErr); err == nil {
			if gwErr.Message != "" {
				msg = gwErr.Message
			} else if gwErr.Error != "" {
				msg = gwErr.Error
			}
		}
		return nil, fmt.Errorf("%w: %s", agreement.ErrLedgerRejected, msg)
	}
}
