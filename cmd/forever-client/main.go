// forever-client is an interactive shell for the memory service, useful for
// inspecting and exercising a store without going through the MCP surface.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/ccforever/forever/pkg/config"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/memory"
)

const (
	cmdHelp    = "!help"
	cmdQuit    = "!quit"
	cmdStore   = "!store"
	cmdSearch  = "!search"
	cmdDelete  = "!delete"
	cmdStats   = "!stats"
	cmdProject = "!project"
)

const helpText = `
Forever Client - Command Reference:
-----------------------------------------
!help                 - Show this help message
!store <content>      - Store content as memory (chunked into Q&A pairs)
!search <query>       - Retrieve memories by semantic similarity
!delete ids <id,...>  - Delete records by id
!delete project <p>   - Delete every record in a project
!delete before <ts>   - Delete records older than an ISO timestamp
!delete all           - Delete all records
!stats                - Show store statistics
!project [name]       - Show or set the project filter for search/store
!quit                 - Exit the application

Notes:
- Regular text input is treated as a search query
- Tab completion is available for commands
- Use up/down arrows for command history`

const historyFile = ".forever_history"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	flag.Parse()

	_ = godotenv.Load()

	log.Setup(log.DefaultConfig())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	service, err := memory.NewServiceFromConfig(context.Background(), cfg)
	if err != nil {
		log.Error("Failed to initialize memory service", "error", err)
		os.Exit(1)
	}

	runCLI(service, cfg, *stdinMode)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// runCLI starts the command-line interface for user interaction.
func runCLI(service *memory.Service, cfg *config.Config, stdinMode bool) {
	project := ""

	fmt.Println("\n=== Forever Client ===")
	fmt.Println("Store:", cfg.Store.Type)
	fmt.Println("Embedding model:", cfg.Embeddings.Model)
	fmt.Println("Config source:", cfg.Source)

	if stdinMode {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input := strings.TrimSpace(scanner.Text())
			if input == "" || strings.HasPrefix(input, "#") {
				continue
			}
			if input == cmdQuit {
				break
			}
			fmt.Println("forever> ", input)
			processCommand(input, service, &project)
		}
		if err := scanner.Err(); err != nil {
			fmt.Printf("Error reading stdin: %v\n", err)
		}
		fmt.Println("Goodbye!")
		return
	}

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(line string) (c []string) {
		commands := []string{cmdHelp, cmdQuit, cmdStore, cmdSearch, cmdDelete, cmdStats, cmdProject}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("Type !help for available commands.")

	for {
		input, err := line.Prompt("forever> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == cmdQuit {
			fmt.Println("Goodbye!")
			break
		}
		processCommand(input, service, &project)
	}
}

// processCommand handles a single line of input.
func processCommand(input string, service *memory.Service, project *string) {
	ctx := context.Background()

	if !strings.HasPrefix(input, "!") {
		runSearch(ctx, service, input, *project)
		return
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case cmdHelp:
		fmt.Println(helpText)

	case cmdStore:
		if arg == "" {
			fmt.Println("Content required: !store <content>")
			return
		}
		result, err := service.Store(ctx, arg, *project, nil, true)
		if err != nil {
			fmt.Printf("Error storing memory: %v\n", err)
			return
		}
		fmt.Printf("Stored %d chunk(s) at %s\n", result.ChunksStored, result.Timestamp)

	case cmdSearch:
		if arg == "" {
			fmt.Println("Query required: !search <query>")
			return
		}
		runSearch(ctx, service, arg, *project)

	case cmdDelete:
		runDelete(ctx, service, arg)

	case cmdStats:
		stats, err := service.Stats(ctx)
		if err != nil {
			fmt.Printf("Error fetching stats: %v\n", err)
			return
		}
		fmt.Printf("Total chunks: %d\nModel: %s\nData dir: %s\nConfig source: %s\n",
			stats.TotalChunks, stats.Model, stats.DataDir, stats.ConfigSource)

	case cmdProject:
		if arg == "" {
			if *project == "" {
				fmt.Println("No project filter set")
			} else {
				fmt.Printf("Project filter: %s\n", *project)
			}
			return
		}
		if arg == "-" {
			*project = ""
			fmt.Println("Project filter cleared")
			return
		}
		*project = arg
		fmt.Printf("Project filter set to: %s\n", *project)

	default:
		fmt.Printf("Unknown command: %s\nType !help for available commands.\n", cmd)
	}
}

func runSearch(ctx context.Context, service *memory.Service, query, project string) {
	result, err := service.Retrieve(ctx, query, memory.DefaultNResults, memory.DefaultThreshold, project)
	if err != nil {
		fmt.Printf("Error searching memories: %v\n", err)
		return
	}
	if len(result.Results) == 0 {
		fmt.Println("No matching memories found.")
		return
	}
	for i, r := range result.Results {
		fmt.Printf("%d. [%.4f] %s\n   project=%s tags=%s time=%s\n   %s\n",
			i+1, r.Score, r.Question, r.Project, r.Tags, r.Timestamp,
			strings.ReplaceAll(r.Text, "\n", "\n   "))
	}
}

func runDelete(ctx context.Context, service *memory.Service, arg string) {
	if arg == "" {
		fmt.Println("Criteria required: !delete ids <id,...> | project <p> | before <ts> | all")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	var criteria memory.DeleteCriteria
	switch parts[0] {
	case "all":
		criteria.All = true
	case "ids":
		if len(parts) < 2 {
			fmt.Println("Ids required: !delete ids <id,...>")
			return
		}
		for _, id := range strings.Split(parts[1], ",") {
			if id = strings.TrimSpace(id); id != "" {
				criteria.IDs = append(criteria.IDs, id)
			}
		}
	case "project":
		if len(parts) < 2 {
			fmt.Println("Project required: !delete project <p>")
			return
		}
		criteria.Project = parts[1]
	case "before":
		if len(parts) < 2 {
			fmt.Println("Timestamp required: !delete before <ts>")
			return
		}
		criteria.Before = parts[1]
	default:
		fmt.Printf("Unknown delete criteria: %s\n", parts[0])
		return
	}

	result, err := service.Delete(ctx, criteria)
	if err != nil {
		fmt.Printf("Error deleting memories: %v\n", err)
		return
	}
	fmt.Printf("Deleted %d record(s) (%s)\n", result.DeletedCount, result.Criteria)
}
