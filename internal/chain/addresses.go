package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Addresses is the deploy server's view of the contracts it deployed.
type Addresses struct {
	Hyperdrive common.Address `json:"hyperdrive"`
	BaseToken  common.Address `json:"baseToken"`
}

// AddressFetcher loads contract addresses from the deploy server.
type AddressFetcher struct {
	URL        string
	HTTPClient *http.Client
	Interval   time.Duration
	MaxWait    time.Duration
	Logger     *zap.Logger
}

// Fetch polls the address endpoint until it answers with a hyperdrive address,
// the context is done, or MaxWait elapses.
func (f *AddressFetcher) Fetch(ctx context.Context) (Addresses, error) {
	if f.URL == "" {
		return Addresses{}, fmt.Errorf("contracts url is required")
	}
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var deadline time.Time
	if f.MaxWait > 0 {
		deadline = time.Now().Add(f.MaxWait)
	}

	for {
		addrs, err := f.fetchOnce(ctx, client)
		if err == nil {
			return addrs, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Addresses{}, fmt.Errorf("fetch addresses: %w", err)
		}
		logger.Warn("contract addresses not available, retrying", zap.String("url", f.URL), zap.Duration("retry_in", interval), zap.Error(err))

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Addresses{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *AddressFetcher) fetchOnce(ctx context.Context, client *http.Client) (Addresses, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return Addresses{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Addresses{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Addresses{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Addresses{}, fmt.Errorf("read body: %w", err)
	}

	var addrs Addresses
	if err := json.Unmarshal(body, &addrs); err != nil {
		return Addresses{}, fmt.Errorf("parse addresses: %w", err)
	}
	if addrs.Hyperdrive == (common.Address{}) {
		return Addresses{}, fmt.Errorf("hyperdrive address missing")
	}
	return addrs, nil
}
