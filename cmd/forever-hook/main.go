// forever-hook consumes a session-lifecycle signal on stdin and indexes the
// last question/answer exchange of the finished session. It always exits 0:
// the host does not expect this hook to fail, so every error is logged to
// stderr and swallowed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/ccforever/forever/pkg/config"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/memory"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.SetupWithOutput(log.DefaultConfig(), os.Stderr)
		log.Error("Failed to load configuration", "error", err)
		return
	}

	log.SetupWithOutput(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	}, os.Stderr)

	input, err := readHookInput(os.Stdin)
	if err != nil {
		log.Error("Failed to read hook input", "error", err)
		return
	}

	if input.StopHookActive || !cfg.AutoIndex {
		log.Debug("Auto-index skipped before service init")
		return
	}

	ctx := context.Background()
	service, err := memory.NewServiceFromConfig(ctx, cfg)
	if err != nil {
		log.Error("Failed to initialize memory service", "error", err)
		return
	}

	service.AutoIndex(ctx, input)
}

func readHookInput(r io.Reader) (memory.HookInput, error) {
	var input memory.HookInput
	data, err := io.ReadAll(r)
	if err != nil {
		return input, err
	}
	err = json.Unmarshal(data, &input)
	return input, err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
