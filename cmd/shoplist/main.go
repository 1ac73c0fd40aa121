package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"shoplist/internal/clipper"
	"shoplist/internal/command"
	"shoplist/internal/config"
	"shoplist/internal/engine"
	"shoplist/internal/list"
	"shoplist/internal/llm"
	"shoplist/internal/metrics"
	"shoplist/internal/roster"
	"shoplist/internal/store"
	"shoplist/internal/store/pgstore"
	"shoplist/internal/store/sqlitestore"
)

func main() {
	ctx := context.Background()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	geminiClient, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize Gemini client: %v", err)
	}
	defer geminiClient.Close()

	var st store.Store
	var metricsStore *metrics.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize postgres store: %v", err)
		}
		defer pg.Close()
		st = pg
		metricsStore = metrics.NewPostgresStore(pg.DB())
	} else {
		lite, err := sqlitestore.New(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize sqlite store: %v", err)
		}
		defer lite.Close()
		st = lite
		metricsStore = metrics.NewStore(lite.DB())
	}

	interp := command.NewInterpreter(geminiClient)
	rosterSvc := roster.NewService(st, cfg.InviteSigningKey)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	user := envOr("SHOPLIST_USER", "cli")

	switch os.Args[1] {
	case "add":
		if len(os.Args) < 3 {
			log.Fatal("Usage: shoplist add \"2kg tomatoes and milk\"")
		}
		eng := startEngine(ctx, rosterSvc, st, interp, metricsStore, user)
		if err := eng.ProcessTextCommand(ctx, os.Args[2]); err != nil {
			log.Fatalf("Command failed: %v", err)
		}
		if pending := eng.Snapshot().Confirmation; pending != nil {
			// One-shot runs cannot wait for an answer.
			eng.Cancel()
			fmt.Printf("Skipped: %s (needs confirmation, rerun with explicit items)\n", pending.Question)
		}
		printItems(eng.Snapshot())

	case "items":
		eng := startEngine(ctx, rosterSvc, st, interp, metricsStore, user)
		printItems(eng.Snapshot())

	case "sort":
		if len(os.Args) < 3 {
			log.Fatal("Usage: shoplist sort none|priority|location|context")
		}
		eng := startEngine(ctx, rosterSvc, st, interp, metricsStore, user)
		if err := eng.ApplySort(ctx, list.SortType(os.Args[2])); err != nil {
			log.Fatalf("Sort failed: %v", err)
		}
		printItems(eng.Snapshot())

	case "clip":
		if len(os.Args) < 3 {
			log.Fatal("Usage: shoplist clip URL")
		}
		eng := startEngine(ctx, rosterSvc, st, interp, metricsStore, user)
		clip := clipper.NewClipper(geminiClient)
		title, drafts, meta, err := clip.ClipURL(ctx, os.Args[2])
		_ = metricsStore.RecordMeta(meta)
		if err != nil {
			log.Fatalf("Clip failed: %v", err)
		}
		for _, draft := range drafts {
			if err := eng.SyncAddItem(ctx, draft); err != nil {
				log.Printf("Failed to add %q: %v", draft.Name, err)
			}
		}
		fmt.Printf("Clipped %q: %d items\n", title, len(drafts))
		printItems(eng.Snapshot())

	case "join":
		if len(os.Args) < 3 {
			log.Fatal("Usage: shoplist join CODE")
		}
		summary, err := rosterSvc.JoinByAccessCode(ctx, user, os.Args[2])
		if err != nil {
			log.Fatalf("Join failed: %v", err)
		}
		fmt.Printf("Joined %q as %s\n", summary.Name, summary.Role)

	case "accept":
		if len(os.Args) < 3 {
			log.Fatal("Usage: shoplist accept TOKEN")
		}
		summary, err := rosterSvc.AcceptInvite(ctx, user, os.Args[2])
		if err != nil {
			log.Fatalf("Accept failed: %v", err)
		}
		fmt.Printf("Joined %q as %s\n", summary.Name, summary.Role)

	case "invite":
		summary, err := rosterSvc.GetOrCreateDefaultList(ctx, user)
		if err != nil {
			log.Fatalf("Failed to load list: %v", err)
		}
		token, err := rosterSvc.CreateInvite(user, summary.ID, list.RoleEditor)
		if err != nil {
			log.Fatalf("Failed to create invite: %v", err)
		}
		fmt.Println(token)

	case "metrics-cleanup":
		cleanupCmd := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := cleanupCmd.Int("days", 30, "Keep records for the last N days")
		cleanupCmd.Parse(os.Args[2:])

		affected, err := metricsStore.Cleanup(*days)
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		fmt.Printf("Successfully removed %d old metric records.\n", affected)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func startEngine(ctx context.Context, rosterSvc *roster.Service, st store.Store, interp *command.Interpreter, metricsStore *metrics.Store, user string) *engine.Engine {
	summary, err := rosterSvc.GetOrCreateDefaultList(ctx, user)
	if err != nil {
		log.Fatalf("Failed to load list: %v", err)
	}
	eng := engine.New(summary.ID, st, st, interp, metricsStore)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	return eng
}

func printItems(state list.State) {
	if len(state.Items) == 0 {
		fmt.Println("(empty list)")
		return
	}
	for _, item := range state.Items {
		mark := " "
		if item.Status == list.StatusPurchased {
			mark = "x"
		}
		line := fmt.Sprintf("[%s] %d %s %s", mark, item.Quantity, item.Unit, item.Name)
		if item.Priority != list.PriorityNone {
			line += fmt.Sprintf(" (%s)", item.Priority)
		}
		fmt.Println(line)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("Usage: shoplist <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  add \"text\"        Interpret free text and update the list")
	fmt.Println("  items              Print the current list")
	fmt.Println("  sort TYPE          Sort the list (none|priority|location|context)")
	fmt.Println("  clip URL           Extract ingredients from a web page")
	fmt.Println("  join CODE          Join a shared list by access code")
	fmt.Println("  invite             Print an invite token for your list")
	fmt.Println("  accept TOKEN       Redeem an invite token")
	fmt.Println("  metrics-cleanup    Remove old metric records (-days N)")
	fmt.Println()
	fmt.Println("SHOPLIST_USER selects the acting user (default \"cli\").")
}
