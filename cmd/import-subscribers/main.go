package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/suspectuso/runes-oracle/internal/config"
	"github.com/suspectuso/runes-oracle/internal/storage"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	csvPath := flag.String("csv", "subscribers.csv", "legacy subscribers file with user_id,first_seen columns")
	dbPath := flag.String("db", cfg.DBPath, "database path")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if envErr != nil {
		log.Debug("no .env file found", "error", envErr)
	}

	subs, err := readSubscribers(*csvPath)
	if err != nil {
		log.Error("read subscribers", "path", *csvPath, "error", err)
		os.Exit(1)
	}

	store, err := storage.New(*dbPath, cfg.DefaultLimits, cfg.PublicIDPrefix)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	added, err := store.ImportSubscribers(context.Background(), subs)
	if err != nil {
		log.Error("import subscribers", "added", added, "error", err)
		os.Exit(1)
	}

	log.Info("subscribers imported", "rows", len(subs), "added", added, "skipped", len(subs)-added)
}

// readSubscribers parses the legacy csv. A header row is optional and rows
// without a numeric user id are skipped.
func readSubscribers(path string) ([]storage.LegacySubscriber, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseSubscribers(f)
}

func parseSubscribers(r io.Reader) ([]storage.LegacySubscriber, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var subs []storage.LegacySubscriber
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) == 0 {
			continue
		}

		userID, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil || userID <= 0 {
			continue
		}

		sub := storage.LegacySubscriber{UserID: userID}
		if len(record) > 1 {
			sub.FirstSeen = strings.TrimSpace(record[1])
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
