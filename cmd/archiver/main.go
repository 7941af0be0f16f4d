package main

import (
	"context"
	"log"
	"os"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/archiver"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app := archiver.NewApp(cfg)

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
