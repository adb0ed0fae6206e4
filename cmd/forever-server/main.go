// forever-server runs the memory MCP server over stdio. The host runtime
// launches it as a subprocess and speaks the protocol on stdin/stdout.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/ccforever/forever/pkg/config"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/mcpserver"
	"github.com/ccforever/forever/pkg/memory"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout belongs to the MCP transport.
	log.SetupWithOutput(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	}, os.Stderr)

	ctx := context.Background()
	service, err := memory.NewServiceFromConfig(ctx, cfg)
	if err != nil {
		log.Error("Failed to initialize memory service", "error", err)
		os.Exit(1)
	}

	server := mcpserver.New(service)
	if err := server.Run(ctx); err != nil {
		log.Error("Server terminated", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
