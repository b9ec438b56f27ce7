package esi

import (
	"fmt"
	"sync"
)

type assetName struct {
	ItemID int64  `json:"item_id"`
	Name   string `json:"name"`
}

// NameResolver resolves asset container names for the detection hint
// filter. Results are cached per item ID; missing names are tolerated.
type NameResolver struct {
	client *Client
	cache  sync.Map // int64 -> string
}

// NewNameResolver wraps a client with the asset-name cache.
func NewNameResolver(client *Client) *NameResolver {
	return &NameResolver{client: client}
}

// ResolveAssetNames returns the user-assigned names for the given
// asset item IDs, fetching uncached IDs in one batch. IDs ESI cannot
// name are simply absent from the result.
func (r *NameResolver) ResolveAssetNames(characterID int64, token string, itemIDs []int64) map[int64]string {
	out := make(map[int64]string, len(itemIDs))
	var missing []int64
	for _, id := range itemIDs {
		if v, ok := r.cache.Load(id); ok {
			if name := v.(string); name != "" {
				out[id] = name
			}
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out
	}

	url := fmt.Sprintf("%s/characters/%d/assets/names/?datasource=tranquility", r.client.baseURL, characterID)
	var names []assetName
	if err := r.client.PostJSON(url, token, missing, &names); err != nil {
		// Absence is permitted; the matcher falls back to unhinted
		// candidate selection.
		return out
	}

	resolved := make(map[int64]bool, len(names))
	for _, n := range names {
		if n.Name == "" || n.Name == "None" {
			continue
		}
		r.cache.Store(n.ItemID, n.Name)
		resolved[n.ItemID] = true
		out[n.ItemID] = n.Name
	}
	// Negative-cache the rest so unnamed containers are asked once.
	for _, id := range missing {
		if !resolved[id] {
			r.cache.Store(id, "")
		}
	}
	return out
}
