package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/dbconfig"
	"github.com/mcdev12/tixmarket/go/internal/dispatcher"
	"github.com/mcdev12/tixmarket/go/internal/eventlog"
	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/payload"
	"github.com/mcdev12/tixmarket/go/internal/transfer"
)

// replay_events prints the payloads the dispatcher would send for stored
// events, one JSON object per line. Nothing is delivered.
func main() {
	var (
		after      = flag.Int64("after", 0, "replay events with a sequence greater than this")
		limit      = flag.Int("limit", 100, "maximum number of events to replay")
		eventType  = flag.String("type", "", "only replay this event type")
		eventID    = flag.String("event", "", "replay a single event by id")
		deliveries = flag.Bool("deliveries", false, "include recorded delivery attempts")
		frontEnd   = flag.String("front-end-url", "", "front end url for receive links (default $FRONT_END_URL)")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	_ = godotenv.Load()

	if *frontEnd == "" {
		*frontEnd = os.Getenv("FRONT_END_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 1) Connect using shared dbconfig
	db, err := dbconfig.Open(ctx, dbconfig.NewConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 2) Build payloads the same way the dispatcher does
	transfers := transfer.NewApp(transfer.NewPostgresStore(db, nil), nil)
	r := &replayer{
		events:  eventlog.NewPostgresStore(db, nil),
		builder: payload.NewBuilder(payload.NewPostgresReader(db), transfers, *frontEnd),
		out:     os.Stdout,
	}
	if *deliveries {
		r.deliveries = dispatcher.NewPostgresRecorder(db)
	}

	opts := options{after: *after, limit: *limit}
	if *eventType != "" {
		t := models.DomainEventType(*eventType)
		opts.eventType = &t
	}
	if *eventID != "" {
		id, err := uuid.Parse(*eventID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid event id: %v\n", err)
			os.Exit(2)
		}
		opts.eventID = &id
	}

	// 3) Replay and summarize
	summary, err := r.run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "events: %d, payloads: %d, skipped: %d, errors: %d, last sequence: %d\n",
		summary.events, summary.payloads, summary.skipped, summary.errors, summary.last)
}
