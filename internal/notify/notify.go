// Package notify delivers promotion alerts. Delivery is fire-and-forget:
// a failed notification is logged and dropped, never unwinding the promotion
// that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is the token state handed to notifiers at promotion time.
type Snapshot struct {
	Address        string    `json:"address"`
	MarketCap      float64   `json:"market_cap"`
	Liquidity      float64   `json:"liquidity"`
	BuyVolume      float64   `json:"buy_volume"`
	NetVolume      float64   `json:"net_volume"`
	GrowthMultiple float64   `json:"growth_multiple"`
	PromotedAt     time.Time `json:"promoted_at"`
}

// Notifier receives promotion events.
type Notifier interface {
	TokenPromoted(ctx context.Context, snap Snapshot)
}

// Log is a Notifier that only writes a structured log line.
type Log struct {
	log zerolog.Logger
}

// NewLog creates a logging notifier.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (n *Log) TokenPromoted(_ context.Context, snap Snapshot) {
	n.log.Info().
		Str("address", snap.Address).
		Float64("market_cap", snap.MarketCap).
		Float64("growth_multiple", snap.GrowthMultiple).
		Msg("token promoted to hot")
}

// Webhook posts the snapshot as JSON to a configured URL. Delivery runs in
// a background goroutine with its own timeout so a slow endpoint never
// stalls the caller.
type Webhook struct {
	url     string
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, timeout time.Duration, log zerolog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "notify").Logger(),
	}
}

func (n *Webhook) TokenPromoted(_ context.Context, snap Snapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		n.log.Error().Err(err).Str("address", snap.Address).Msg("marshal promotion snapshot")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		n.deliver(ctx, snap.Address, body)
	}()
}

func (n *Webhook) deliver(ctx context.Context, address string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Error().Err(err).Str("address", address).Msg("build promotion webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn().Err(err).Str("address", address).Msg("promotion webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn().Int("status", resp.StatusCode).Str("address", address).Msg("promotion webhook rejected")
	}
}

// Compile-time interface checks.
var (
	_ Notifier = (*Log)(nil)
	_ Notifier = (*Webhook)(nil)
)
