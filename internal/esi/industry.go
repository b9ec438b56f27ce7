package esi

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"eve-foreman/internal/refdata"
)

// IndustryCostIndex is one system's cost indices as ESI reports them.
type IndustryCostIndex struct {
	SolarSystemID int32 `json:"solar_system_id"`
	CostIndices   []struct {
		Activity  string  `json:"activity"`
		CostIndex float64 `json:"cost_index"`
	} `json:"cost_indices"`
}

// IndustryPrice holds adjusted_price and average_price for one type.
type IndustryPrice struct {
	TypeID        int32   `json:"type_id"`
	AdjustedPrice float64 `json:"adjusted_price"`
	AveragePrice  float64 `json:"average_price"`
}

const (
	costIndicesTTL = time.Hour
	pricesTTL      = 30 * time.Minute
)

// IndustryData serves system cost indices and adjusted prices with
// TTL caching. It implements refdata.IndexSource and
// refdata.PriceSource; concurrent cache misses collapse into a single
// upstream fetch.
type IndustryData struct {
	client *Client

	mu          sync.RWMutex
	indices     map[int32]refdata.SystemIndex
	indicesTime time.Time
	prices      map[int32]float64
	pricesTime  time.Time

	group singleflight.Group
}

// NewIndustryData wraps a client with the industry caches.
func NewIndustryData(client *Client) *IndustryData {
	return &IndustryData{
		client:  client,
		indices: make(map[int32]refdata.SystemIndex),
		prices:  make(map[int32]float64),
	}
}

// SystemIndices returns the per-system cost indices, fetching at most
// once per TTL window.
func (d *IndustryData) SystemIndices() (map[int32]refdata.SystemIndex, error) {
	d.mu.RLock()
	if time.Since(d.indicesTime) < costIndicesTTL && len(d.indices) > 0 {
		out := d.indices
		d.mu.RUnlock()
		return out, nil
	}
	d.mu.RUnlock()

	v, err, _ := d.group.Do("indices", func() (interface{}, error) {
		d.mu.RLock()
		if time.Since(d.indicesTime) < costIndicesTTL && len(d.indices) > 0 {
			out := d.indices
			d.mu.RUnlock()
			return out, nil
		}
		d.mu.RUnlock()

		url := fmt.Sprintf("%s/industry/systems/?datasource=tranquility", d.client.baseURL)
		var raw []IndustryCostIndex
		if err := d.client.GetJSON(url, "", &raw); err != nil {
			return nil, err
		}

		fresh := make(map[int32]refdata.SystemIndex, len(raw))
		for _, sys := range raw {
			var idx refdata.SystemIndex
			for _, ci := range sys.CostIndices {
				switch ci.Activity {
				case "manufacturing":
					idx.Manufacturing = ci.CostIndex
				case "reaction":
					idx.Reaction = ci.CostIndex
				}
			}
			fresh[sys.SolarSystemID] = idx
		}

		d.mu.Lock()
		d.indices = fresh
		d.indicesTime = time.Now()
		d.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int32]refdata.SystemIndex), nil
}

// AdjustedPrices returns CCP's adjusted prices for all types, fetching
// at most once per TTL window.
func (d *IndustryData) AdjustedPrices() (map[int32]float64, error) {
	d.mu.RLock()
	if time.Since(d.pricesTime) < pricesTTL && len(d.prices) > 0 {
		out := d.prices
		d.mu.RUnlock()
		return out, nil
	}
	d.mu.RUnlock()

	v, err, _ := d.group.Do("prices", func() (interface{}, error) {
		d.mu.RLock()
		if time.Since(d.pricesTime) < pricesTTL && len(d.prices) > 0 {
			out := d.prices
			d.mu.RUnlock()
			return out, nil
		}
		d.mu.RUnlock()

		url := fmt.Sprintf("%s/markets/prices/?datasource=tranquility", d.client.baseURL)
		var raw []IndustryPrice
		if err := d.client.GetJSON(url, "", &raw); err != nil {
			return nil, err
		}

		fresh := make(map[int32]float64, len(raw))
		for _, p := range raw {
			fresh[p.TypeID] = p.AdjustedPrice
		}

		d.mu.Lock()
		d.prices = fresh
		d.pricesTime = time.Now()
		d.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int32]float64), nil
}
