package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/seo"
	"github.com/ternarybob/vigil/internal/services/auth"
	"github.com/ternarybob/vigil/internal/services/events"
	"github.com/ternarybob/vigil/internal/services/ipinfo"
	"github.com/ternarybob/vigil/internal/session"
	badgerstore "github.com/ternarybob/vigil/internal/storage/badger"
	"github.com/ternarybob/vigil/internal/transport"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths
	analysisURL  = flag.String("url", "", "Website URL to analyze")
	bots         = flag.String("bots", "", "Comma-separated bot selection (overrides config)")
	aiEnrichment = flag.Bool("enrich", false, "Request AI content enrichment")
	token        = flag.String("token", "", "Bearer token for the authenticated transport")
	serverURL    = flag.String("server", "", "Analysis server base URL (overrides config)")
	historyCount = flag.Int("history", 0, "List the N most recent sessions and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Println(common.GetFullVersion())
		os.Exit(0)
	}

	config, err := common.LoadConfig(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		config.Server.BaseURL = *serverURL
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.LoadVersionFromFile())

	history := openHistory(config, logger)

	if *historyCount > 0 {
		os.Exit(listHistory(history, *historyCount))
	}

	if *analysisURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(config, logger, history))
}

// openHistory opens the local session history store. Failure disables
// history, it never blocks an analysis.
func openHistory(config *common.Config, logger arbor.ILogger) interfaces.HistoryStorage {
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		logger.Warn().Err(err).Msg("Session history unavailable")
		return nil
	}
	return badgerstore.NewHistoryStorage(db, logger)
}

func listHistory(history interfaces.HistoryStorage, limit int) int {
	if history == nil {
		fmt.Fprintln(os.Stderr, "Error: session history unavailable")
		return 1
	}

	records, err := history.ListRecent(context.Background(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Println("No sessions recorded yet")
		return 0
	}

	for _, r := range records {
		seoMark := ""
		if r.SEOAttached {
			seoMark = " +seo"
		}
		fmt.Printf("%s  %-9s  %-40s  %d pages%s\n",
			r.FinishedAt.Format("2006-01-02 15:04:05"), r.State, r.URL, r.PageCount, seoMark)
	}
	return 0
}

func run(config *common.Config, logger arbor.ILogger, history interfaces.HistoryStorage) int {
	authService := auth.NewService(config.Server.BaseURL, config.Server.RequestTimeout, logger)
	apiClient := transport.NewClient(config.Server.BaseURL,
		transport.WithTokenValidator(authService),
		transport.WithLogger(logger),
	)
	seoClient := seo.NewClient(config.Server.BaseURL,
		seo.WithRateLimit(config.SEO.RateLimit),
		seo.WithLogger(logger),
	)

	var ipLookup interfaces.IPLookup
	if config.Server.IPLookupURL != "" {
		ipLookup = ipinfo.NewClient(config.Server.IPLookupURL, config.Server.RequestTimeout, logger)
	}

	eventService := events.NewService(logger)
	defer eventService.Close()

	controller := session.NewController(apiClient, seoClient, eventService, logger, session.Options{
		IPLookup:        ipLookup,
		History:         history,
		SEOPollInterval: config.SEO.PollInterval,
		SEOPollTimeout:  config.SEO.PollTimeout,
	})

	leave := make(chan struct{})
	subscribeOutput(eventService, controller, leave)

	req := models.AnalysisRequest{
		URL:          *analysisURL,
		Bots:         config.Analysis.Bots,
		AIEnrichment: config.Analysis.AIEnrichment || *aiEnrichment,
		Token:        *token,
	}
	if *bots != "" {
		req.Bots = splitList(*bots)
	}

	sessionID, err := controller.Start(context.Background(), req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrValidation):
			fmt.Fprintf(os.Stderr, "Error: %q is not a valid URL\n", *analysisURL)
		case errors.Is(err, transport.ErrAuth):
			fmt.Fprintln(os.Stderr, "Error: authentication failed, check your token")
		default:
			fmt.Fprintf(os.Stderr, "Error: could not start analysis: %v\n", err)
		}
		return 1
	}
	logger.Info().Str("session_id", sessionID).Msg("Watching analysis session")

	// First Ctrl-C cancels the session, second one force-quits
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nCancelling analysis...")
		controller.Cancel()
		<-sigChan
		os.Exit(130)
	}()

	waitCtx := context.Background()
	if config.Analysis.StreamTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, config.Analysis.StreamTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- controller.Wait(waitCtx)
	}()

	select {
	case <-leave:
		fmt.Println("The analysis keeps running on the server; results will arrive by email.")
		return 0
	case err := <-done:
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: gave up waiting for the analysis stream")
			controller.Cancel()
			return 1
		}
	}

	switch controller.State() {
	case models.SessionCompleted:
		return 0
	case models.SessionCancelled:
		return 130
	default:
		return 1
	}
}

// subscribeOutput wires terminal output to session events.
func subscribeOutput(eventService interfaces.EventService, controller *session.Controller, leave chan struct{}) {
	eventService.Subscribe(interfaces.EventSessionProgress, func(ctx context.Context, event interfaces.Event) error {
		if progress, ok := event.Payload.(models.ProgressEvent); ok {
			fmt.Printf("[%3d%%] %s\n", progress.Percent, progress.Message)
		}
		return nil
	})

	eventService.Subscribe(interfaces.EventAsyncPrompt, func(ctx context.Context, event interfaces.Event) error {
		prompt, _ := event.Payload.(models.AsyncPrompt)
		// Answered on its own goroutine so the stream keeps flowing while
		// the user decides
		go answerPrompt(controller, prompt, leave)
		return nil
	})

	eventService.Subscribe(interfaces.EventSessionCompleted, func(ctx context.Context, event interfaces.Event) error {
		if result, ok := event.Payload.(*models.AnalysisResult); ok {
			fmt.Printf("Analysis complete: %d paths extracted\n", len(result.Paths))
			if result.AIContent != "" {
				fmt.Println("AI-enriched content is included in the result")
			}
		}
		return nil
	})

	eventService.Subscribe(interfaces.EventSessionFailed, func(ctx context.Context, event interfaces.Event) error {
		if message, ok := event.Payload.(string); ok {
			fmt.Fprintf(os.Stderr, "Analysis failed: %s\n", message)
		}
		return nil
	})

	eventService.Subscribe(interfaces.EventSessionCancelled, func(ctx context.Context, event interfaces.Event) error {
		fmt.Println("Analysis cancelled")
		return nil
	})

	eventService.Subscribe(interfaces.EventResultAugmented, func(ctx context.Context, event interfaces.Event) error {
		if report, ok := event.Payload.(*models.SEOReport); ok {
			fmt.Printf("SEO analysis attached: score %d, %d issues\n", report.Score, len(report.Issues))
		}
		return nil
	})
}

func answerPrompt(controller *session.Controller, prompt models.AsyncPrompt, leave chan struct{}) {
	message := prompt.Message
	if message == "" {
		message = "This analysis may take a while."
	}
	fmt.Printf("\n%s\nKeep waiting? [Y/n] (n = disconnect, receive results by email): ", message)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		// stdin gone (piped input exhausted); keep waiting
		controller.ResolveHandoff(models.DecisionKeepWaiting)
		return
	}

	if strings.EqualFold(strings.TrimSpace(answer), "n") {
		if controller.ResolveHandoff(models.DecisionLeave) == nil {
			close(leave)
		}
		return
	}
	controller.ResolveHandoff(models.DecisionKeepWaiting)
}

func splitList(value string) []string {
	parts := []string{}
	for _, p := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
