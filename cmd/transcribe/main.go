// Command transcribe recognizes a single WAV or raw PCM file and prints the
// transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skypro1111/asr-stream-service/internal/audio"
	"github.com/skypro1111/asr-stream-service/internal/config"
	"github.com/skypro1111/asr-stream-service/internal/logging"
	"github.com/skypro1111/asr-stream-service/internal/transcription"
)

// Exit codes
const (
	exitOK       = 0
	exitFailed   = 1
	exitNoSpeech = 2
	exitUsage    = 64
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Optional configuration file; credentials may come from the environment")
	envFile := flag.String("env-file", ".env", "Optional .env file with ASR credentials")
	language := flag.String("language", "", "Override the recognition language")
	partial := flag.Bool("partial", false, "Print live results to stderr")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <audio.wav|audio.pcm>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return exitUsage
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment file: %v\n", err)
		return exitFailed
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFailed
	}
	if *language != "" {
		cfg.ASR.Language = *language
	}

	logger := logging.New(config.LoggingConfig{Level: *logLevel, Format: "text", Output: "stderr"})

	pcm, err := readAudio(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read audio: %v\n", err)
		return exitFailed
	}

	opts := []transcription.Option{transcription.WithLogger(logger)}
	if *partial {
		opts = append(opts, transcription.WithUpdateHandler(func(u transcription.Update) {
			fmt.Fprintf(os.Stderr, "\r%s %s", u.Text, u.Interim)
		}))
	}

	session, err := transcription.NewSession(cfg.SessionConfig(), opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitFailed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Streaming audio",
		slog.String("file", flag.Arg(0)),
		slog.Duration("duration", audio.RecognizerFormat.Duration(len(pcm))),
		slog.String("connect_id", session.ConnectID()),
	)

	result, err := session.Run(ctx, pcm)
	if *partial {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		if errors.Is(err, transcription.ErrNoSpeech) {
			fmt.Fprintln(os.Stderr, "No speech recognized")
			return exitNoSpeech
		}
		fmt.Fprintf(os.Stderr, "Recognition failed (%s): %v\n", transcription.KindOf(err), err)
		return exitFailed
	}

	fmt.Println(result.Text)
	return exitOK
}

// readAudio loads a WAV file converted to recognizer PCM, or raw PCM as is
func readAudio(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if !audio.IsWAV(data) {
		return data, nil
	}

	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return audio.ToRecognizerPCM(pcm, format)
}
