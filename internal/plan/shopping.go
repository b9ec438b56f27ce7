package plan

import (
	"math"
	"sort"
	"strings"

	"eve-foreman/internal/refdata"
)

// ShoppingItem is one line of the raw-material shopping list.
type ShoppingItem struct {
	TypeID     int32   `json:"type_id"`
	TypeName   string  `json:"type_name"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"` // adjusted price, 0 if unknown
	TotalPrice float64 `json:"total_price"`
	Volume     float64 `json:"volume"`
}

// ShoppingList projects the Material tier of a result into a buy list,
// net of consumed stock, sorted by total price descending.
func (res *Result) ShoppingList(snap *refdata.Snapshot) []ShoppingItem {
	out := make([]ShoppingItem, 0, len(res.Nodes))
	for _, node := range res.Nodes {
		if node.Type != NodeMaterial {
			continue
		}
		qty := int64(math.Ceil(node.Needed)) - node.Stock
		if qty <= 0 {
			continue
		}
		price := snap.AdjustedPrice(node.Item.ID)
		out = append(out, ShoppingItem{
			TypeID:     node.Item.ID,
			TypeName:   node.Item.Name,
			Quantity:   qty,
			UnitPrice:  price,
			TotalPrice: price * float64(qty),
			Volume:     node.Item.Volume * float64(qty),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPrice != out[j].TotalPrice {
			return out[i].TotalPrice > out[j].TotalPrice
		}
		return out[i].TypeID < out[j].TypeID
	})
	return out
}

// SearchResult holds a catalogue search hit.
type SearchResult struct {
	TypeID       int32  `json:"type_id"`
	TypeName     string `json:"type_name"`
	HasBlueprint bool   `json:"has_blueprint"`
	relevance    int    // 0 = exact, 1 = starts with, 2 = contains
}

// SearchItems returns catalogue items matching the query, buildable
// items first, then by relevance (exact > prefix > contains), then
// alphabetically.
func SearchItems(snap *refdata.Snapshot, query string, limit int) []SearchResult {
	if limit <= 0 {
		limit = 20
	}
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return []SearchResult{}
	}

	var results []SearchResult
	snap.EachItem(func(item *refdata.Item) {
		nameLower := strings.ToLower(item.Name)
		var relevance int
		switch {
		case nameLower == queryLower:
			relevance = 0
		case strings.HasPrefix(nameLower, queryLower):
			relevance = 1
		case strings.Contains(nameLower, queryLower):
			relevance = 2
		default:
			return
		}
		_, hasBP := snap.BlueprintProducing(item.ID)
		results = append(results, SearchResult{
			TypeID:       item.ID,
			TypeName:     item.Name,
			HasBlueprint: hasBP,
			relevance:    relevance,
		})
	})

	sort.Slice(results, func(i, j int) bool {
		if results[i].HasBlueprint != results[j].HasBlueprint {
			return results[i].HasBlueprint
		}
		if results[i].relevance != results[j].relevance {
			return results[i].relevance < results[j].relevance
		}
		return results[i].TypeName < results[j].TypeName
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
