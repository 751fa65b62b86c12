// Command orchestrator runs a single media-generation session end to
// end: it loads configuration, assembles the components in
// internal/orchestrator into one long-lived record, starts a session
// from a goal string (or resumes a previously checkpointed one), and
// exposes a Prometheus /metrics endpoint for the duration of the run.
//
// Grounded on the teacher's examples/prometheus_monitoring/main.go entry
// point shape (custom registry, promhttp handler goroutine, signal-driven
// shutdown) and examples/llm/main.go's os.Getenv-sourced provider keys.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zerobranding/orchestrator/internal/config"
	"github.com/zerobranding/orchestrator/internal/engine"
	"github.com/zerobranding/orchestrator/internal/orchestrator"
	"github.com/zerobranding/orchestrator/internal/session"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to a YAML config file (optional; defaults are used when empty)")
		checkpointDir = flag.String("checkpoint-dir", "./checkpoints", "directory for the file-backed checkpoint store")
		metricsAddr   = flag.String("metrics-addr", ":9090", "listen address for the Prometheus /metrics endpoint")
		sessionID     = flag.String("session", "", "resume an existing session id instead of starting a new one")
		goal          = flag.String("goal", "", "goal text for a new session (required unless -session is set)")
		userID        = flag.String("user-id", "anonymous", "user id recorded on a new session")
		userRole      = flag.String("user-role", string(session.RoleUser), "user role recorded on a new session (guest|user|admin)")
		channel       = flag.String("channel", "cli", "delivery channel recorded on a new session's user context")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("orchestrator: load config: %v", err)
	}

	registry := prometheus.NewRegistry()
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		log.Printf("metrics listening on %s (http://%s/metrics)", *metricsAddr, *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("orchestrator: metrics server: %v", err)
		}
	}()

	backends := orchestrator.Backends{
		GenerateImage:     os.Getenv("ORCHESTRATOR_BACKEND_GENERATE_IMAGE"),
		SaveArtifact:      os.Getenv("ORCHESTRATOR_BACKEND_SAVE_ARTIFACT"),
		LoadImage:         os.Getenv("ORCHESTRATOR_BACKEND_LOAD_IMAGE"),
		UpscaleImage:      os.Getenv("ORCHESTRATOR_BACKEND_UPSCALE_IMAGE"),
		SaveUpscaled:      os.Getenv("ORCHESTRATOR_BACKEND_SAVE_UPSCALED"),
		GenerateKeyframes: os.Getenv("ORCHESTRATOR_BACKEND_GENERATE_KEYFRAMES"),
		InterpolateFrames: os.Getenv("ORCHESTRATOR_BACKEND_INTERPOLATE_FRAMES"),
		RenderAnimation:   os.Getenv("ORCHESTRATOR_BACKEND_RENDER_ANIMATION"),
		LoadAudio:         os.Getenv("ORCHESTRATOR_BACKEND_LOAD_AUDIO"),
		TranscribeAudio:   os.Getenv("ORCHESTRATOR_BACKEND_TRANSCRIBE_AUDIO"),
		FormatSegments:    os.Getenv("ORCHESTRATOR_BACKEND_FORMAT_SEGMENTS"),
		PrepareText:       os.Getenv("ORCHESTRATOR_BACKEND_PREPARE_TEXT"),
		SynthesizeSpeech:  os.Getenv("ORCHESTRATOR_BACKEND_SYNTHESIZE_SPEECH"),
		SaveAudio:         os.Getenv("ORCHESTRATOR_BACKEND_SAVE_AUDIO"),
		UploadTelegram:    os.Getenv("ORCHESTRATOR_BACKEND_UPLOAD_TELEGRAM"),
		UploadLocal:       os.Getenv("ORCHESTRATOR_BACKEND_UPLOAD_LOCAL"),
	}
	keys := orchestrator.ProviderKeys{
		Anthropic: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAI:    os.Getenv("OPENAI_API_KEY"),
		Google:    os.Getenv("GOOGLE_API_KEY"),
	}

	orch, err := orchestrator.New(cfg, *checkpointDir, backends, keys,
		orchestrator.WithPrometheusRegisterer(registry),
	)
	if err != nil {
		log.Fatalf("orchestrator: build: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("orchestrator: received interrupt, cancelling session")
		cancel()
	}()

	result, err := run(ctx, orch, *sessionID, *goal, *userID, *userRole, *channel)
	if err != nil {
		log.Fatalf("orchestrator: run: %v", err)
	}

	log.Printf("session %s finished: status=%s steps=%d", result.State.SessionID, result.State.Status, result.State.CurrentStep)
	if result.Report != nil {
		log.Printf("report: %s", result.Report.StatusMessage)
	}
}

func run(ctx context.Context, orch *orchestrator.Orchestrator, sessionID, goal, userID, userRole, channel string) (engine.RunResult, error) {
	if sessionID != "" {
		if goal != "" {
			log.Printf("orchestrator: -session and -goal both set; resuming %s and ignoring -goal", sessionID)
		}
		return orch.Resume(ctx, sessionID)
	}
	if goal == "" {
		log.Fatal("orchestrator: -goal is required to start a new session (or pass -session to resume one)")
	}
	user := session.UserContext{UserID: userID, Role: session.Role(userRole), Channel: channel}
	return orch.Start(ctx, "", goal, user)
}
