// Headless participant: dials the pairing server, searches for a partner
// and negotiates a direct connection, logging every state transition.
// Useful as a load generator and as the reference wiring of the client
// stack.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/telegramgrupp/project/internal/adapters/media"
	"github.com/telegramgrupp/project/internal/adapters/rtc"
	"github.com/telegramgrupp/project/internal/adapters/wsclient"
	"github.com/telegramgrupp/project/internal/core"
	"github.com/telegramgrupp/project/internal/orch"
)

func main() {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	var (
		serverURL = fs.StringP("server-url", "s", "ws://localhost:8080/api/ws/signal", "signaling server websocket url")
		stun      = fs.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "STUN server urls")
		logLevel  = fs.StringP("log-level", "l", "info", "log level")
		video     = fs.Bool("video", true, "acquire a video track")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse log level")
	}
	zerolog.SetGlobalLevel(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := wsclient.Dial(ctx, *serverURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial signaling server")
	}
	defer client.Close()

	o, err := orch.New(orch.Config{
		LocalID:      client.ID(),
		Signaler:     client,
		Media:        media.StaticSource{},
		NewTransport: rtc.Factory(rtc.Config(*stun)),
		Constraints:  core.Constraints{Audio: true, Video: *video},
		OnState: func(s orch.State) {
			log.Info().Str("state", s.String()).Msg("state changed")
		},
		OnRemoteMedia: func(h core.MediaHandle) {
			log.Info().Str("stream", h.ID()).Msg("remote media available")
		},
		OnError: func(err error) {
			log.Warn().Err(err).Msg("session error")
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}
	defer o.Close()

	if err := o.StartSearch(ctx); err != nil {
		log.Fatal().Err(err).Msg("search failed")
	}

	runErr := client.Run(ctx, o)
	o.EndChat()
	if runErr != nil && ctx.Err() == nil {
		log.Error().Err(runErr).Msg("signaling connection lost")
		os.Exit(1)
	}
	log.Info().Msg("client exited")
}
