package main

import (
	"context"
	"log"

	"github.com/villaprodiq/studiosync/internal/client/agent"
	"github.com/villaprodiq/studiosync/internal/client/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := agent.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
