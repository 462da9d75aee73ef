package services

import (
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/andriyanwar/meja-app/models"
)

// GatewayConfig holds payment gateway configuration. The gateway is an
// opaque collaborator: the service only knows how to open a charge, ask
// for its status and verify a callback signature.
type GatewayConfig struct {
	BaseURL      string
	ServerKey    string
	ClientKey    string
	IsProduction bool
	MerchantName string
}

// GatewayService wraps the gateway HTTP API.
type GatewayService struct {
	config     *GatewayConfig
	httpClient *http.Client
}

var (
	gatewayService *GatewayService
	gatewayOnce    sync.Once
)

// GetGatewayService returns the singleton gateway client, configured from
// the environment.
func GetGatewayService() *GatewayService {
	gatewayOnce.Do(func() {
		cfg := &GatewayConfig{
			BaseURL:      os.Getenv("GATEWAY_BASE_URL"),
			ServerKey:    os.Getenv("GATEWAY_SERVER_KEY"),
			ClientKey:    os.Getenv("GATEWAY_CLIENT_KEY"),
			IsProduction: os.Getenv("GATEWAY_ENV") == "production",
			MerchantName: os.Getenv("GATEWAY_MERCHANT_NAME"),
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.sandbox.gateway.example"
		}
		if cfg.MerchantName == "" {
			cfg.MerchantName = "Meja App"
		}
		gatewayService = &GatewayService{
			config:     cfg,
			httpClient: &http.Client{Timeout: 30 * time.Second},
		}
	})
	return gatewayService
}

// ValidateConfig checks that the required gateway credentials are set.
func (gs *GatewayService) ValidateConfig() error {
	if gs.config.ServerKey == "" {
		return fmt.Errorf("GATEWAY_SERVER_KEY is not set")
	}
	if gs.config.ClientKey == "" {
		return fmt.Errorf("GATEWAY_CLIENT_KEY is not set")
	}
	return nil
}

// ChargeResponse is the subset of the gateway's charge reply the core
// cares about.
type ChargeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"transaction_status"`
	RedirectURL   string `json:"redirect_url"`
	QRString      string `json:"qr_string"`
}

// CreateCharge opens a charge for an order. The reference handed in ties
// the gateway transaction back to the order on callback.
func (gs *GatewayService) CreateCharge(reference string, amount float64, order models.Order) (*ChargeResponse, error) {
	url := fmt.Sprintf("%s/v2/charge", gs.config.BaseURL)

	payload := map[string]interface{}{
		"payment_type": "qris",
		"transaction_details": map[string]interface{}{
			"order_id":     reference,
			"gross_amount": int64(amount),
		},
		"item_details": []map[string]interface{}{
			{
				"id":       reference,
				"price":    int64(amount),
				"quantity": 1,
				"name":     fmt.Sprintf("Table %d order", order.TableID),
			},
		},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	gs.authorize(req)

	resp, err := gs.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway charge failed: %s (%d)", string(body), resp.StatusCode)
	}

	var charge ChargeResponse
	if err := json.Unmarshal(body, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// CheckStatus asks the gateway for a transaction's current status.
func (gs *GatewayService) CheckStatus(reference string) (string, error) {
	url := fmt.Sprintf("%s/v2/%s/status", gs.config.BaseURL, reference)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	gs.authorize(req)

	resp, err := gs.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var reply struct {
		TransactionStatus string `json:"transaction_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", err
	}
	return reply.TransactionStatus, nil
}

// ValidSignature verifies a callback against
// sha512(orderRef + statusCode + grossAmount + serverKey).
func (gs *GatewayService) ValidSignature(orderRef, statusCode, grossAmount, signature string) bool {
	sum := sha512.Sum512([]byte(orderRef + statusCode + grossAmount + gs.config.ServerKey))
	return hex.EncodeToString(sum[:]) == signature
}

func (gs *GatewayService) authorize(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(gs.config.ServerKey + ":"))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
