package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPoolInfoJSONRoundTrip(t *testing.T) {
	original := PoolInfo{
		BlockNumber:   4000,
		Timestamp:     time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		ShareReserves: decimal.RequireFromString("1000000.5"),
		BondReserves:  decimal.RequireFromString("2500000.000000000000000001"),
		SharePrice:    decimal.RequireFromString("1.05"),
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded PoolInfo
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.BlockNumber != original.BlockNumber || !decoded.Timestamp.Equal(original.Timestamp) {
		t.Fatalf("header mismatch: %+v != %+v", decoded, original)
	}
	if !decoded.ShareReserves.Equal(original.ShareReserves) {
		t.Fatalf("share reserves mismatch: %s", decoded.ShareReserves)
	}
	if !decoded.BondReserves.Equal(original.BondReserves) {
		t.Fatalf("bond reserves mismatch: %s", decoded.BondReserves)
	}
	if !decoded.SharePrice.Equal(original.SharePrice) {
		t.Fatalf("share price mismatch: %s", decoded.SharePrice)
	}
}

func TestPoolInfoJSONFixedPointAsString(t *testing.T) {
	data, err := json.Marshal(PoolInfo{BlockNumber: 1, SharePrice: decimal.RequireFromString("1.000000000000000001")})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	price, ok := decoded["share_price"].(string)
	if !ok {
		t.Fatalf("share_price should be string")
	}
	if price != "1.000000000000000001" {
		t.Fatalf("share_price lost precision: %s", price)
	}
}
