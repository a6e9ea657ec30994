package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/charmbracelet/glamour"
	"github.com/dvloznov/pocketpilot/internal/backend"
	"github.com/dvloznov/pocketpilot/internal/categorize"
	"github.com/dvloznov/pocketpilot/internal/config"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/export"
	"github.com/dvloznov/pocketpilot/internal/logger"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/dvloznov/pocketpilot/internal/views"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "adduser":
		runAddUser(cfg, log)
	case "signin-check":
		runSignInCheck(cfg, log)
	case "categorize":
		runCategorize(cfg, log)
	case "export":
		runExport(cfg, log)
	case "summary":
		runSummary(cfg, log)
	case "clear":
		runClear(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("PocketPilot CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  adduser        Register a user with an email and password")
	fmt.Println("  signin-check   Verify a user's credentials against the backend")
	fmt.Println("  categorize     Suggest a category for a transaction description")
	fmt.Println("  export         Render a report for a user and deliver it")
	fmt.Println("  summary        Print a user's financial summary")
	fmt.Println("  clear          Delete every row a user owns in one table")
	fmt.Println("  help           Show this help message")
	fmt.Println("\nThe backend is selected with POCKETPILOT_BACKEND.")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

func openBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) backend.Backend {
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	b, err := backend.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("Failed to open backend")
	}
	return b
}

func lookupUser(ctx context.Context, users remote.UserLookup, email string, log zerolog.Logger) remote.User {
	if email == "" {
		log.Fatal().Msg("Error: --email is required")
	}
	u, err := users.FindUserByEmail(ctx, email)
	if err != nil {
		log.Fatal().Err(err).Str("email", email).Msg("User lookup failed")
	}
	return u
}

func runAddUser(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *email == "" || *password == "" {
		log.Fatal().Msg("Error: --email and --password are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b := openBackend(ctx, cfg, log)
	defer b.Close()

	hash, err := session.HashPassword(*password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}
	id, err := b.CreateUser(ctx, *email, hash)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create user")
	}

	fmt.Printf("Created user %s (%s)\n", *email, id)
}

func runSignInCheck(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("signin-check", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b := openBackend(ctx, cfg, log)
	defer b.Close()

	s, err := session.NewPasswordAuthenticator(b, cfg.SessionTTL).Authenticate(ctx, *email, *password)
	if err != nil {
		log.Fatal().Err(err).Str("email", *email).Msg("Sign-in failed")
	}

	fmt.Printf("User ID:    %s\n", s.UserID)
	fmt.Printf("Email:      %s\n", s.Email)
	fmt.Printf("Expires at: %s\n", s.Expiry.Format(time.RFC3339))
}

func runCategorize(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("categorize", flag.ExitOnError)
	description := fs.String("description", "", "Transaction description")
	txType := fs.String("type", string(domain.TransactionExpense), "Transaction type (income or expense)")
	model := fs.String("model", cfg.GenAIModel, "GenAI model name")
	fs.Parse(os.Args[2:])

	if *description == "" {
		log.Fatal().Msg("Error: --description is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	m, err := categorize.NewGenAIModel(ctx, *model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create model client")
	}

	category, err := categorize.NewSuggester(m, log).Suggest(ctx, *description, domain.TransactionType(*txType))
	if err != nil {
		log.Fatal().Err(err).Msg("Categorization failed")
	}
	fmt.Println(category)
}

func runExport(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	email := fs.String("email", "", "Owner of the exported data")
	format := fs.String("format", string(export.FormatCSV), "Output format (csv, json, markdown, html)")
	reportType := fs.String("type", string(export.ReportTransactions), "Report type (transactions, budgets, accounts, summary)")
	from := fs.String("from", "", "First transaction date, YYYY-MM-DD")
	to := fs.String("to", "", "Last transaction date, YYYY-MM-DD")
	dir := fs.String("dir", cfg.ExportDir, "Output directory")
	toGCS := fs.Bool("gcs", false, "Upload to GCS_BUCKET instead of writing to --dir")
	fs.Parse(os.Args[2:])

	opts, err := exportOptions(*format, *reportType, *from, *to)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid export options")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	b := openBackend(ctx, cfg, log)
	defer b.Close()
	user := lookupUser(ctx, b, *email, log)

	snap, err := export.BackendSnapshot(b)(ctx, user.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load data")
	}
	doc, err := export.Render(snap, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to render export")
	}

	var dest export.Destination = export.DirDestination{Dir: *dir}
	if *toGCS {
		if cfg.GCSBucket == "" {
			log.Fatal().Msg("Error: GCS_BUCKET is not set")
		}
		gcs, err := export.NewGCSDestination(ctx, cfg.GCSBucket, "exports")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS destination")
		}
		defer gcs.Close()
		dest = gcs
	}

	loc, err := dest.Deliver(ctx, user.ID, doc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to deliver export")
	}
	fmt.Printf("Wrote %s (%d bytes) to %s\n", doc.Name, len(doc.Data), loc)
}

// exportOptions parses the export flags. Empty dates leave that side of the
// range open.
func exportOptions(format, reportType, from, to string) (export.Options, error) {
	opts := export.Options{
		Format:      export.Format(format),
		Type:        export.ReportType(reportType),
		GeneratedAt: time.Now(),
	}

	var err error
	if opts.From, err = parseOptionalDate(from); err != nil {
		return export.Options{}, fmt.Errorf("exportOptions: --from: %w", err)
	}
	if opts.To, err = parseOptionalDate(to); err != nil {
		return export.Options{}, fmt.Errorf("exportOptions: --to: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return export.Options{}, fmt.Errorf("exportOptions: %w", err)
	}
	return opts, nil
}

func parseOptionalDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, nil
	}
	return civil.ParseDate(s)
}

func runSummary(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	email := fs.String("email", "", "User to summarize")
	period := fs.String("period", "", "Limit to the current month or year")
	raw := fs.Bool("raw", false, "Print Markdown without terminal styling")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	b := openBackend(ctx, cfg, log)
	defer b.Close()
	user := lookupUser(ctx, b, *email, log)

	snap, err := export.BackendSnapshot(b)(ctx, user.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load data")
	}

	txs := snap.Transactions
	if *period != "" {
		p := views.Period(*period)
		if p != views.PeriodMonth && p != views.PeriodYear {
			log.Fatal().Str("period", *period).Msg("Error: --period must be month or year")
		}
		from, to := views.PeriodRange(p, civil.DateOf(time.Now()))
		txs = views.FilterTransactions(txs, views.TransactionFilter{From: from, To: to})
	}

	md := "# " + user.Email + "\n\n" + export.SummaryMarkdown(views.Summary(txs, snap.Accounts))
	if *raw {
		fmt.Print(md)
		return
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create renderer")
	}
	out, err := r.Render(md)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to render summary")
	}
	fmt.Print(out)
}

func runClear(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	email := fs.String("email", "", "Owner of the rows")
	table := fs.String("table", "", "Table to clear ("+strings.Join(remote.Tables, ", ")+")")
	yes := fs.Bool("yes", false, "Confirm the deletion")
	fs.Parse(os.Args[2:])

	if !remote.KnownTable(*table) {
		log.Fatal().Str("table", *table).Msg("Error: --table must be one of " + strings.Join(remote.Tables, ", "))
	}
	if !*yes {
		log.Fatal().Msg("Error: refusing to delete without --yes")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	b := openBackend(ctx, cfg, log)
	defer b.Close()
	user := lookupUser(ctx, b, *email, log)

	if err := b.Table(*table).DeleteAll(ctx, user.ID); err != nil {
		log.Fatal().Err(err).Msg("Failed to clear table")
	}
	fmt.Printf("Cleared %s for %s\n", *table, user.Email)
}
