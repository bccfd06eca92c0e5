package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/database"
	"market-oracle-bot/internal/types"
)

const usage = `Manage Market Oracle subscribers

Usage:
  manage add <chat_id> [--days 30] [--tier basic] [--pref standard]
  manage remove <chat_id>
  manage add-ticker <chat_id> <ticker>
  manage remove-ticker <chat_id> <ticker>
  manage list
`

type store interface {
	AddSubscriber(ctx context.Context, chatID int64, days int, tier types.Tier, pref types.Preference) error
	RemoveSubscriber(ctx context.Context, chatID int64) error
	ActiveSubscribers(ctx context.Context) ([]types.Subscriber, error)
	AddTicker(ctx context.Context, chatID int64, ticker string, max int) error
	RemoveTicker(ctx context.Context, chatID int64, ticker string) error
	UniqueTickers(ctx context.Context) ([]string, error)
}

func main() {
	config.InitConfig()
	log.SetLevel(log.WarnLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	db, err := database.Open(config.GetString("db_path"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := run(context.Background(), db, config.GetInt("max_tickers_per_subscriber"), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		db.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, db store, maxTickers int, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "add":
		fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
		days := fs.Int("days", 30, "subscription duration in days")
		tier := fs.String("tier", "basic", "plan tier: basic or pro")
		pref := fs.String("pref", "standard", "standard, alerts_only, digest_only or full")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		chatID, err := chatIDArg(fs.Args(), 1)
		if err != nil {
			return err
		}
		if *days <= 0 {
			return errors.Errorf("days must be positive, got %d", *days)
		}
		t, p := types.ParseTier(*tier), types.ParsePreference(*pref)
		if err := db.AddSubscriber(ctx, chatID, *days, t, p); err != nil {
			return err
		}
		fmt.Fprintf(out, "Success: subscriber %d added/updated for %d days. Tier: %s Pref: %s\n", chatID, *days, t, p)

	case "remove":
		chatID, err := chatIDArg(rest, 1)
		if err != nil {
			return err
		}
		if err := db.RemoveSubscriber(ctx, chatID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return errors.Errorf("subscriber %d not found", chatID)
			}
			return err
		}
		fmt.Fprintf(out, "Success: subscriber %d deactivated.\n", chatID)

	case "add-ticker", "remove-ticker":
		chatID, err := chatIDArg(rest, 2)
		if err != nil {
			return err
		}
		ticker := strings.ToUpper(strings.TrimSpace(rest[1]))
		if cmd == "add-ticker" {
			if err := db.AddTicker(ctx, chatID, ticker, maxTickers); err != nil {
				return err
			}
			fmt.Fprintf(out, "Success: added %s to %d.\n", ticker, chatID)
		} else {
			if err := db.RemoveTicker(ctx, chatID, ticker); err != nil {
				return err
			}
			fmt.Fprintf(out, "Success: removed %s from %d.\n", ticker, chatID)
		}

	case "list":
		subs, err := db.ActiveSubscribers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Active subscribers (%d):\n", len(subs))
		for _, s := range subs {
			expires := "never"
			if s.ExpiresAt != nil {
				expires = s.ExpiresAt.Format("2006-01-02")
			}
			fmt.Fprintf(out, " - %d [Tier: %s] [Pref: %s] [Expires: %s] [Tickers: %s]\n",
				s.ChatID, s.Tier, s.Preference, expires, strings.Join(s.Tickers, ", "))
		}
		tickers, err := db.UniqueTickers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Tracked tickers (%d): %s\n", len(tickers), strings.Join(tickers, ", "))

	default:
		fmt.Fprint(out, usage)
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

func chatIDArg(args []string, want int) (int64, error) {
	if len(args) != want {
		return 0, errors.Errorf("expected %d argument(s), got %d", want, len(args))
	}
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid chat id %q", args[0])
	}
	return chatID, nil
}
