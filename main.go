package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eve-foreman/internal/api"
	"eve-foreman/internal/auth"
	"eve-foreman/internal/config"
	"eve-foreman/internal/db"
	"eve-foreman/internal/detect"
	"eve-foreman/internal/esi"
	"eve-foreman/internal/logger"
	"eve-foreman/internal/refdata"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $FOREMAN_CONFIG)")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	logger.Banner(version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Config", fmt.Sprintf("Failed to load config: %v", err))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	os.MkdirAll(cfg.DataDir, 0755)

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	esiClient := esi.NewClient()
	industry := esi.NewIndustryData(esiClient)
	names := esi.NewNameResolver(esiClient)
	creds := auth.NewStore(database.SqlDB())

	var refresher auth.TokenRefresher
	if clientID := os.Getenv("ESI_CLIENT_ID"); clientID != "" {
		refresher = auth.NewSSOClient(clientID, os.Getenv("ESI_CLIENT_SECRET"))
	} else {
		logger.Warn("Auth", "ESI_CLIENT_ID not set, token refresh disabled")
	}

	srv := api.NewServer(cfg, database, esiClient, industry, creds)

	// Load the reference catalogue in the background; planning endpoints
	// answer 503 until it is attached.
	go func() {
		data, err := refdata.Load(cfg.DataDir)
		if err != nil {
			logger.Error("RefData", fmt.Sprintf("Load failed: %v", err))
			return
		}
		srv.SetRefData(refdata.NewStore(data, buildStructures(cfg), buildMappings(cfg), nil, industry, industry))
	}()

	matcher, err := detect.NewMatcher(cfg.ProjectTagRegex)
	if err != nil {
		logger.Error("Detect", fmt.Sprintf("Bad project tag pattern: %v", err))
		os.Exit(1)
	}
	runner := &detect.Runner{
		DB:        database,
		Client:    esiClient,
		Names:     names,
		Creds:     creds,
		Refresher: refresher,
		Matcher:   matcher,
	}
	dispatcher := detect.NewDispatcher(runner, cfg.MatcherInterval, cfg.MatcherTickTimeout, cfg.MatcherSlots)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go dispatcher.Run(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	logger.Server(addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}

// buildStructures materializes the configured facilities.
func buildStructures(cfg *config.Config) []*refdata.Structure {
	out := make([]*refdata.Structure, 0, len(cfg.Structures))
	for _, sc := range cfg.Structures {
		typ, ok := refdata.StructureTypeFromString(sc.Type)
		if !ok {
			logger.Warn("Config", fmt.Sprintf("structure %q: unknown type %q, skipping", sc.Name, sc.Type))
			continue
		}
		sec, ok := refdata.SecurityFromString(sc.Security)
		if !ok {
			logger.Warn("Config", fmt.Sprintf("structure %q: unknown security %q, skipping", sc.Name, sc.Security))
			continue
		}
		taxRate := sc.TaxRate
		if taxRate <= 0 {
			taxRate = cfg.FacilityTaxRate
		}
		out = append(out, refdata.NewStructure(sc.ID, sc.Name, sc.SystemID, typ, sec, sc.RigTypeIDs, taxRate))
	}
	return out
}

// buildMappings materializes the configured routing rules, keeping the
// declaration order so the first matching rule wins.
func buildMappings(cfg *config.Config) []refdata.StructureMapping {
	out := make([]refdata.StructureMapping, 0, len(cfg.StructureMappings))
	for _, mc := range cfg.StructureMappings {
		out = append(out, refdata.StructureMapping{
			StructureID: mc.StructureID,
			CategoryIDs: mc.CategoryIDs,
			GroupIDs:    mc.GroupIDs,
		})
	}
	return out
}
