package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/peervault/internal/app"
	"github.com/dmitrijs2005/peervault/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
