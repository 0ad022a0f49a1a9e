package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront_pay_echo/internal/models"
)

const qrBankSuccessCode = 1000

// QRBankService talks to the bank's PromptPay QR API. Confirmations arrive
// on the reference callback with the ref triple echoed back.
type QRBankService struct {
	baseURL   string
	apiKey    string
	apiSecret string
	billerID  string
	client    *http.Client
	tokens    *TokenCache
}

// NewQRBankService builds the bank adapter. cache may be nil; when set, the
// access token is shared with other instances through Redis.
func NewQRBankService(baseURL, apiKey, apiSecret, billerID string, cache *RedisCache) *QRBankService {
	s := &QRBankService{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		billerID:  billerID,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
	s.tokens = NewTokenCache("qrbank:access_token:"+apiKey, s.fetchToken, cache)
	return s
}

func (s *QRBankService) Name() models.PaymentGateway {
	return models.PaymentGatewayQRBank
}

type qrBankStatus struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type qrBankTokenResponse struct {
	Status qrBankStatus `json:"status"`
	Data   struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	} `json:"data"`
}

type qrBankCreateRequest struct {
	QRType string `json:"qrType"`
	PPType string `json:"ppType"`
	PPID   string `json:"ppId"`
	Amount string `json:"amount"`
	Ref1   string `json:"ref1"`
	Ref2   string `json:"ref2"`
	Ref3   string `json:"ref3"`
}

type qrBankCreateResponse struct {
	Status qrBankStatus `json:"status"`
	Data   struct {
		QRRawData string `json:"qrRawData"`
		QRImage   string `json:"qrImage"`
	} `json:"data"`
}

func (s *QRBankService) fetchToken(ctx context.Context) (AccessToken, error) {
	payload := map[string]string{
		"applicationKey":    s.apiKey,
		"applicationSecret": s.apiSecret,
	}

	var out qrBankTokenResponse
	if _, err := s.makeRequest(ctx, http.MethodPost, "/v1/oauth/token", "", payload, &out); err != nil {
		return AccessToken{}, fmt.Errorf("qrbank token: %w", err)
	}
	if out.Status.Code != qrBankSuccessCode || out.Data.AccessToken == "" {
		return AccessToken{}, fmt.Errorf("qrbank token: status %d %s", out.Status.Code, out.Status.Description)
	}

	return AccessToken{
		Value:     out.Data.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(out.Data.ExpiresIn) * time.Second),
	}, nil
}

// CreateQR requests a PromptPay biller QR for the reference triple.
func (s *QRBankService) CreateQR(ctx context.Context, req QRRequest) (*QRResponse, error) {
	token, err := s.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}

	body := qrBankCreateRequest{
		QRType: "PP",
		PPType: "BILLERID",
		PPID:   s.billerID,
		Amount: FormatMinorUnits(req.Amount),
		Ref1:   req.Refs.Ref1,
		Ref2:   req.Refs.Ref2,
		Ref3:   req.Refs.Ref3,
	}

	var out qrBankCreateResponse
	raw, err := s.makeRequest(ctx, http.MethodPost, "/v1/payment/qrcode/create", token, body, &out)
	if err != nil {
		if isUnauthorized(err) {
			s.tokens.Invalidate(ctx)
		}
		return nil, fmt.Errorf("qrbank create qr: %w", err)
	}
	if out.Status.Code != qrBankSuccessCode || out.Data.QRRawData == "" {
		return nil, fmt.Errorf("qrbank create qr: status %d %s", out.Status.Code, out.Status.Description)
	}

	return &QRResponse{
		QRPayload: out.Data.QRRawData,
		Raw:       raw,
	}, nil
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.code, e.body)
}

func isUnauthorized(err error) bool {
	if se, ok := err.(*httpStatusError); ok {
		return se.code == http.StatusUnauthorized
	}
	return false
}

func (s *QRBankService) makeRequest(ctx context.Context, method, endpoint, token string, payload, dest interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("resourceOwnerId", s.apiKey)
	req.Header.Set("requestUId", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return body, nil
}

// FormatMinorUnits renders an amount in minor units as a two-decimal string.
func FormatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return sign + strconv.FormatInt(amount/100, 10) + "." + fmt.Sprintf("%02d", amount%100)
}

// ParseMinorUnits reads a decimal amount such as "500.00" or "500.5" into
// minor units. Signs and more than two fraction digits are rejected.
func ParseMinorUnits(s string) (int64, bool) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if !allDigits(whole) || len(frac) > 2 || (frac != "" && !allDigits(frac)) {
		return 0, false
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	minor, _ := strconv.ParseInt(frac+strings.Repeat("0", 2-len(frac)), 10, 64)
	return major*100 + minor, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
