// Package telegram содержит минимальный клиент Bot API: отправку текстового сообщения в чат.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/maximaxme/subboy/internal/config"
)

var (
	// ErrBlocked возвращается, если пользователь заблокировал бота (403).
	ErrBlocked = errors.New("bot was blocked by the user")
	// ErrCircuitOpen возвращается, пока Bot API считается недоступным.
	ErrCircuitOpen = errors.New("telegram circuit breaker is open")
)

// APIError ответ Bot API с ok=false.
type APIError struct {
	Code        int
	Description string
	// RetryAfter заполняется для 429 Too Many Requests.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram api error %d: %s (retry after %s)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Unwrap позволяет сравнивать 403 с ErrBlocked через errors.Is.
func (e *APIError) Unwrap() error {
	if e.Code == http.StatusForbidden {
		return ErrBlocked
	}
	return nil
}

// clientSide ошибки, вызванные конкретным запросом, а не состоянием Bot API.
func (e *APIError) clientSide() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// Client отправляет сообщения через Bot API с ограничением частоты
// и автоматическим выключателем.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[struct{}]
	log        *slog.Logger
}

// New создаёт клиент по настройкам из конфига.
func New(cfg config.Telegram, log *slog.Logger) (*Client, error) {
	const op = "telegram.New"

	if cfg.Token == "" {
		return nil, fmt.Errorf("%s: empty bot token", op)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	log = log.With(slog.String("component", "telegram"))
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    fmt.Sprintf("%s/bot%s/", strings.TrimRight(cfg.APIURL, "/"), cfg.Token),
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.clientSide()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c, nil
}

// Send отправляет текст в чат в режиме HTML.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	const op = "telegram.Send"

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.call(ctx, "sendMessage", sendMessageRequest{
			ChatID:                chatID,
			Text:                  text,
			ParseMode:             "HTML",
			DisableWebPagePreview: true,
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}
	if err != nil {
		return fmt.Errorf("%s: chat %d: %w", op, chatID, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var res apiResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("unexpected response %d: %w", resp.StatusCode, err)
	}
	if res.OK {
		return nil
	}

	apiErr := &APIError{Code: res.ErrorCode, Description: res.Description}
	if apiErr.Code == 0 {
		apiErr.Code = resp.StatusCode
	}
	if res.Parameters != nil && res.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(res.Parameters.RetryAfter) * time.Second
	}
	return apiErr
}
