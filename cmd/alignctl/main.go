// alignctl dispatches a single alignment job from the command line and
// follows it to a terminal state, printing progress as it goes.
// Usage: alignctl -lyrics song.txt -format lrc
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/autolyrix/aligntrack/internal/config"
	"github.com/autolyrix/aligntrack/internal/model"
	"github.com/autolyrix/aligntrack/internal/remote"
	"github.com/autolyrix/aligntrack/internal/tracker"
)

func main() {
	lyricsPath := flag.String("lyrics", "", "path to lyrics text file (required)")
	format := flag.String("format", model.FormatLRC, "output format: lrc, json or srt")
	audioName := flag.String("audio", "", "audio file name to report")
	verbose := flag.Bool("v", false, "log transport details to stderr")
	flag.Parse()

	if *lyricsPath == "" {
		fmt.Fprintln(os.Stderr, "alignctl: -lyrics is required")
		flag.Usage()
		os.Exit(2)
	}
	if !model.ValidFormat(*format) {
		fmt.Fprintf(os.Stderr, "alignctl: unknown format %q\n", *format)
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "alignctl: %v\n", err)
		os.Exit(2)
	}

	raw, err := os.ReadFile(*lyricsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "alignctl: read lyrics: %v\n", err)
		os.Exit(2)
	}
	lyrics := model.TruncateLyrics(string(raw), model.MaxLyricsBytes)
	if len(lyrics) < len(raw) {
		fmt.Fprintf(os.Stderr, "alignctl: lyrics truncated to %d bytes\n", model.MaxLyricsBytes)
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	client := remote.NewClient(cfg.APIBase, cfg.Owner, cfg.Repo, cfg.WorkflowEvent, cfg.Token)

	jobID := model.NewID()
	payload := remote.DispatchPayload{
		JobID:     jobID,
		Lyrics:    lyrics,
		AudioName: *audioName,
		Format:    *format,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	tr := tracker.New(client, payload, logger, tracker.Options{
		PollInterval:    cfg.PollInterval,
		MaxWait:         cfg.MaxWait,
		CorrelateBudget: cfg.CorrelateBudget,
		WindowBefore:    cfg.WindowBefore,
		WindowAfter:     cfg.WindowAfter,
	}, printProgress)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("job %s: dispatching\n", jobID)
	res := tr.Run(ctx)

	switch res.State {
	case model.StateCompleted:
		fmt.Printf("job %s: completed", jobID)
		if res.Run != nil {
			fmt.Printf(" (run %d)", res.Run.ID)
		}
		fmt.Println()
		for _, a := range res.Artifacts {
			fmt.Printf("  artifact %s (%d bytes)\n", a.Name, a.SizeInBytes)
		}
		if res.ArtifactWarning != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", res.ArtifactWarning)
		}
	case model.StateCancelled:
		fmt.Printf("job %s: cancelled\n", jobID)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "job %s: %s", jobID, res.State)
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, ": %v", res.Err)
		}
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}
}

func printProgress(s tracker.Snapshot) {
	line := fmt.Sprintf("job %s: %s %3d%%", s.JobID, s.State, s.Progress)
	if s.RunID != nil {
		line += fmt.Sprintf(" run=%d", *s.RunID)
	}
	fmt.Println(line)
}
