// Command asr-simulator serves a local recognition endpoint for development.
// Every session is answered with one interim result per few audio packets
// and a final transcript after the last packet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/asr-stream-service/internal/asrtest"
	"github.com/skypro1111/asr-stream-service/internal/config"
	"github.com/skypro1111/asr-stream-service/internal/logging"
	"github.com/skypro1111/asr-stream-service/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "Listen address")
	text := flag.String("text", "hello world", "Final transcript returned for every session")
	every := flag.Int("interim-every", 5, "Send an interim result every N audio packets (0 disables)")
	failCode := flag.Uint("fail-code", 0, "Answer the first audio packet with this error code instead")
	dropAfter := flag.Int("drop-after", 0, "Drop the connection after N audio packets (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.New(config.LoggingConfig{Level: *logLevel, Format: "text", Output: "stdout"})

	handler := asrtest.NewHandler(responder(*text, *every, uint32(*failCode)), logger)
	handler.DropAfter = *dropAfter

	mux := http.NewServeMux()
	mux.Handle("/api/v3/sauc/bigmodel_async", handler)
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("ASR simulator listening",
			slog.String("endpoint", fmt.Sprintf("ws://%s/api/v3/sauc/bigmodel_async", *addr)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", slog.String("error", err.Error()))
	}
}

// responder reveals text word by word as interim results, then sends it as
// the final result.
func responder(text string, every int, failCode uint32) asrtest.Responder {
	return func(rec *asrtest.Recording, frame *protocol.Frame) []*protocol.Frame {
		if frame.MessageType != protocol.MessageTypeAudioOnlyRequest {
			return nil
		}

		n := len(rec.Audio)
		if failCode != 0 && n == 1 {
			return []*protocol.Frame{asrtest.ErrorFrame(failCode, "simulated failure")}
		}

		if frame.IsLast() {
			return []*protocol.Frame{asrtest.ResponseFrame(map[string]any{
				"result": asrtest.Result{Text: text},
			}, true)}
		}

		if every > 0 && n%every == 0 {
			return []*protocol.Frame{asrtest.TextFrame(prefixWords(text, n/every), false, false)}
		}
		return nil
	}
}

// prefixWords returns the first n space separated words of text
func prefixWords(text string, n int) string {
	words := 0
	for i, r := range text {
		if r == ' ' {
			words++
			if words == n {
				return text[:i]
			}
		}
	}
	return text
}
