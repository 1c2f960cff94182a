package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"lookbook/internal/admission"
	"lookbook/internal/domain"
	"lookbook/internal/infra"
	"lookbook/internal/kv"
	"lookbook/internal/pipelock"
)

func main() {
	var (
		userFlag  string
		guestFlag bool
		resetFlag bool
		locksFlag bool
	)

	flag.StringVar(&userFlag, "user", "", "user ID to inspect")
	flag.BoolVar(&guestFlag, "guest", false, "inspect the shared guest counter")
	flag.BoolVar(&resetFlag, "reset", false, "reset the user's active job counter to 0")
	flag.BoolVar(&locksFlag, "locks", false, "list held pipeline locks")
	flag.Parse()

	_ = godotenv.Load()

	userID := strings.TrimSpace(userFlag)
	if guestFlag {
		userID = domain.DefaultUserID
	}
	if userID == "" && !locksFlag {
		exitWithError(errors.New("either -user, -guest or -locks must be provided"))
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "quota").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect redis: %w", err))
	}
	defer rdb.Close()
	store := kv.New(rdb, "lookbook")

	if userID != "" {
		ctrl := admission.New(store, admission.Options{MaxJobs: cfg.MaxJobs, Logger: &logger})
		if resetFlag {
			if err := ctrl.Reset(ctx, userID); err != nil {
				exitWithError(err)
			}
			fmt.Printf("User %s counter reset\n", userID)
		}
		n, err := ctrl.Usage(ctx, userID)
		if err != nil {
			exitWithError(err)
		}
		fmt.Printf("user=%s active=%d max_jobs=%d\n", userID, n, cfg.MaxJobs)
	}

	if locksFlag {
		locks := pipelock.New(store, pipelock.Options{TTL: cfg.LockTTL, Logger: &logger})
		held, err := locks.List(ctx)
		if err != nil {
			exitWithError(err)
		}
		if len(held) == 0 {
			fmt.Println("no pipeline locks held")
		}
		for _, h := range held {
			fmt.Printf("job=%s suggestion=%d token=%s expires_in=%s\n", h.JobID, h.Index, h.Token, h.Remaining.Round(time.Second))
		}
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
