package refdata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"eve-foreman/internal/logger"
)

// Data holds the static reference data: items, groups and blueprints.
// It is immutable after Load; refreshes build a new Data.
type Data struct {
	Items  map[int32]*Item
	Groups map[int32]*ItemGroup

	blueprints *blueprintIndex
}

// NewData returns an empty Data, useful for tests.
func NewData() *Data {
	return &Data{
		Items:      make(map[int32]*Item),
		Groups:     make(map[int32]*ItemGroup),
		blueprints: newBlueprintIndex(),
	}
}

// Item looks up a type by ID.
func (d *Data) Item(typeID int32) (*Item, bool) {
	it, ok := d.Items[typeID]
	return it, ok
}

// BlueprintProducing returns the blueprint producing typeID: the
// manufacturing recipe if any, else the reaction recipe, never both.
func (d *Data) BlueprintProducing(typeID int32) (*Blueprint, bool) {
	return d.blueprints.producing(typeID)
}

// AddBlueprint registers a recipe. Exposed for tests and for callers
// that assemble reference data without SDE files.
func (d *Data) AddBlueprint(bp *Blueprint) {
	d.blueprints.add(bp)
}

// BlueprintCount returns the number of loaded recipes.
func (d *Data) BlueprintCount() int {
	return len(d.blueprints.byBlueprint)
}

// Load parses reference data from a directory of extracted SDE JSONL
// files. Downloading and extracting the SDE happens upstream.
func Load(dataDir string) (*Data, error) {
	d := NewData()

	logger.Info("SDE", "Loading item groups...")
	if err := d.loadGroups(dataDir); err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	logger.Info("SDE", "Loading item types...")
	if err := d.loadTypes(dataDir); err != nil {
		return nil, fmt.Errorf("load types: %w", err)
	}
	logger.Info("SDE", "Loading blueprints...")
	if err := d.loadBlueprints(dataDir); err != nil {
		return nil, fmt.Errorf("load blueprints: %w", err)
	}

	logger.Section("Reference Data")
	logger.Stats("Item types", len(d.Items))
	logger.Stats("Groups", len(d.Groups))
	logger.Stats("Blueprints", d.BlueprintCount())
	return d, nil
}

func (d *Data) loadGroups(dir string) error {
	return readJSONL(dir, "groups", func(raw json.RawMessage) error {
		var g struct {
			Key        int32             `json:"_key"`
			Name       map[string]string `json:"name"`
			CategoryID int32             `json:"categoryID"`
		}
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		d.Groups[g.Key] = &ItemGroup{
			ID:         g.Key,
			Name:       strings.TrimSpace(g.Name["en"]),
			CategoryID: g.CategoryID,
		}
		return nil
	})
}

func (d *Data) loadTypes(dir string) error {
	// Unlike a market scanner we keep unpublished and non-market types:
	// reaction intermediates and fuel inputs must resolve during
	// expansion even when they never appear on the market.
	return readJSONL(dir, "types", func(raw json.RawMessage) error {
		var t struct {
			Key            int32             `json:"_key"`
			Name           map[string]string `json:"name"`
			GroupID        int32             `json:"groupID"`
			MetaGroupID    int32             `json:"metaGroupID"`
			Volume         float64           `json:"volume"`
			PackagedVolume float64           `json:"packagedVolume"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		name := t.Name["en"]
		if name == "" {
			return nil
		}
		item := &Item{
			ID:               t.Key,
			Name:             name,
			GroupID:          t.GroupID,
			MetaGroupID:      t.MetaGroupID,
			Volume:           t.Volume,
			RepackagedVolume: t.PackagedVolume,
		}
		if g, ok := d.Groups[t.GroupID]; ok {
			item.CategoryID = g.CategoryID
		}
		d.Items[t.Key] = item
		return nil
	})
}

func (d *Data) loadBlueprints(dir string) error {
	count := 0
	err := readJSONL(dir, "blueprints", func(raw json.RawMessage) error {
		var bp struct {
			Key                int32 `json:"_key"`
			MaxProductionLimit int32 `json:"maxProductionLimit"`
			Activities         map[string]struct {
				Time      int64 `json:"time"`
				Materials []struct {
					TypeID   int32 `json:"typeID"`
					Quantity int32 `json:"quantity"`
				} `json:"materials"`
				Products []struct {
					TypeID   int32 `json:"typeID"`
					Quantity int32 `json:"quantity"`
				} `json:"products"`
			} `json:"activities"`
		}
		if err := json.Unmarshal(raw, &bp); err != nil {
			return err
		}

		for _, name := range []string{"manufacturing", "reaction"} {
			act, ok := bp.Activities[name]
			if !ok || len(act.Products) == 0 {
				continue
			}
			activity := ActivityManufacturing
			if name == "reaction" {
				activity = ActivityReaction
			}
			recipe := &Blueprint{
				BlueprintTypeID: bp.Key,
				ProductTypeID:   act.Products[0].TypeID,
				ProductQuantity: act.Products[0].Quantity,
				Activity:        activity,
				TimeSeconds:     act.Time,
				MaxRunsPerJob:   bp.MaxProductionLimit,
			}
			for _, m := range act.Materials {
				recipe.Materials = append(recipe.Materials, Material{TypeID: m.TypeID, Quantity: m.Quantity})
			}
			d.blueprints.add(recipe)
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if count == 0 {
		logger.Warn("SDE", "No blueprint records found")
	}
	return nil
}

// readJSONL finds and reads a .jsonl file by base name from the
// extracted SDE directory.
func readJSONL(dir, baseName string, fn func(json.RawMessage) error) error {
	var filePath string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := strings.TrimSuffix(info.Name(), ".jsonl")
		if strings.EqualFold(name, baseName) {
			filePath = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return err
	}
	if filePath == "" {
		logger.Warn("SDE", fmt.Sprintf("File %s.jsonl not found, skipping", baseName))
		return nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(json.RawMessage(line)); err != nil {
			continue // skip malformed lines
		}
	}
	return scanner.Err()
}
