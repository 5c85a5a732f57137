package main

import (
	"os"

	"github.com/mwquant/trendscan/internal/archive"
	"github.com/mwquant/trendscan/internal/datasource"
	"github.com/mwquant/trendscan/internal/market"
	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/universe"
)

// app is the shared object graph behind every subcommand.
type app struct {
	store    *scancache.Store
	manager  *datasource.Manager
	web      *datasource.EastmoneyWeb
	universe *universe.Universe
	analyzer *market.Analyzer
	archive  *archive.Archive
}

func newApp() (*app, error) {
	store, err := scancache.NewStore(cfg.Cache.Dir, cfg.Cache.ResultsDir, log)
	if err != nil {
		return nil, err
	}

	limits := make(map[string]datasource.LimiterConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		limits[name] = datasource.LimiterConfig{
			MaxPerMinute:    p.MaxPerMinute,
			InitialInterval: p.InitialInterval.Std(),
		}
	}
	manager := datasource.NewManager(log, limits,
		datasource.NewEastmoneyProvider(),
		datasource.NewTencentProvider(),
		datasource.NewYahooProvider(),
	)
	web := datasource.NewEastmoneyWeb(log)

	uni, err := universe.New(web, cfg.Cache.Dir, log)
	if err != nil {
		return nil, err
	}

	mktCfg := market.DefaultConfig()
	if cfg.Market.TopFraction > 0 {
		mktCfg.TopFraction = cfg.Market.TopFraction
	}
	if cfg.Market.LimitUpThreshold > 0 {
		mktCfg.LimitUpThreshold = cfg.Market.LimitUpThreshold
	}
	if cfg.Market.MaxSectors > 0 {
		mktCfg.MaxSectors = cfg.Market.MaxSectors
	}
	analyzer := market.NewAnalyzer(web, mktCfg, log)

	a := &app{
		store:    store,
		manager:  manager,
		web:      web,
		universe: uni,
		analyzer: analyzer,
	}

	// The archive is opt-in: no DB_HOST, no archive.
	if os.Getenv("DB_HOST") != "" {
		arch, err := archive.Open(archive.ConfigFromEnv(), log)
		if err != nil {
			log.Warn().Err(err).Msg("archive unavailable, results stay file-only")
		} else {
			a.archive = arch
		}
	}

	return a, nil
}

func (a *app) close() {
	if a.archive != nil {
		a.archive.Close()
	}
}
