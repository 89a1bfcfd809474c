// Package archive предоставляет клиент внешнего сервиса долговременного
// хранения заказов.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом хранения заказов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type persistResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewClient создаёт HTTP-клиент для обращения к сервису хранения по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// PersistOrder передаёт финализированный заказ на архивное хранение и
// возвращает ошибку, если сервис недоступен или не подтвердил запись.
// Повторы и backoff не выполняются: политика "хотя бы раз" реализуется
// повторной финализацией на вызывающей стороне.
func (c *Client) PersistOrder(ctx context.Context, order *model.Order) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("archive client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	url := base + "/api/orders"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result persistResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("archive rejected order: %s", result.Message)
	}

	return nil
}
