package main

import (
	"context"
	"os"

	"github.com/dvloznov/expense-insight/internal/analysis"
	"github.com/dvloznov/expense-insight/internal/config"
	"github.com/dvloznov/expense-insight/internal/logger"
)

func main() {
	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	root := newRootCommand(openService)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openService builds the analysis service from the resolved config.
func openService(ctx context.Context, cfg *config.Config) (*analysis.Service, func() error, error) {
	svc, source, err := analysis.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return svc, source.Close, nil
}
