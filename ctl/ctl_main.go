package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/ctl/command"
)

func main() {
	_ = godotenv.Load("staging.env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := command.NewRootCmd(config.LoadEnvConfig())
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
