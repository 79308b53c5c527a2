package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/duelbot/internal/combat"
	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
	"github.com/duelbot/internal/duel"
	"github.com/duelbot/internal/kafka"
	"github.com/duelbot/internal/memstore"
	"github.com/duelbot/internal/service"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func playerName(id int64) string {
	idx := int(id - 1)
	return fmt.Sprintf("%s%d", playerPrefixes[idx%len(playerPrefixes)], idx/len(playerPrefixes)+1)
}

func main() {
	guildID := flag.Int64("guild", 1, "Guild ID")
	players := flag.Int("players", 20, "Number of synthetic players")
	duels := flag.Int("duels", 200, "Number of instant duels to run")
	seed := flag.Int64("seed", 0, "Combat seed (0 = random)")
	top := flag.Int("top", 10, "Leaderboard size to print")
	brokers := flag.String("brokers", "", "Kafka brokers to publish outcomes to (comma-separated, empty = no publishing)")
	topic := flag.String("topic", "duel-outcomes", "Kafka topic")
	verbose := flag.Bool("v", false, "Print every duel")
	flag.Parse()

	if *players < 2 {
		log.Fatalf("need at least 2 players, got %d", *players)
	}
	if *seed == 0 {
		s, err := combat.NewSeed()
		if err != nil {
			log.Fatalf("Failed to seed: %v", err)
		}
		*seed = s
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Duel Simulator")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Guild:            %d\n", *guildID)
	fmt.Printf("  Players:          %d\n", *players)
	fmt.Printf("  Duels:            %d\n", *duels)
	fmt.Printf("  Seed:             %d\n", *seed)
	if *brokers != "" {
		fmt.Printf("  Publishing to:    %s (%s)\n", *brokers, *topic)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	var publisher service.EventPublisher
	if *brokers != "" {
		p, err := kafka.NewPublisher(&config.KafkaConfig{
			Brokers:       strings.Split(*brokers, ","),
			Topic:         *topic,
			RetryAttempts: 3,
			RetryDelay:    100 * time.Millisecond,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to create publisher: %v", err)
		}
		defer p.Close()
		publisher = p
	}

	store := memstore.New(time.Now)
	progression := service.NewProgressionService(store, nil, publisher, logger)
	cfg := duel.DefaultConfig()
	cfg.ChallengeCooldown = 0
	machine := duel.NewMachine(store, progression, cfg, logger,
		duel.WithLevels(progression),
		duel.WithSource(combat.NewSource(*seed)),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pick := rand.New(rand.NewSource(*seed))
	var wins, draws, failures int
	start := time.Now()

	for i := 0; i < *duels && ctx.Err() == nil; i++ {
		a := int64(pick.Intn(*players) + 1)
		b := int64(pick.Intn(*players-1) + 1)
		if b >= a {
			b++
		}

		d, err := machine.Challenge(ctx, *guildID, a, b, domain.DuelModeInstant)
		if err != nil {
			failures++
			log.Printf("challenge %s vs %s failed: %v", playerName(a), playerName(b), err)
			continue
		}
		res, err := machine.RunInstant(ctx, d.ID)
		if err != nil {
			failures++
			log.Printf("duel %d failed: %v", d.ID, err)
			continue
		}

		if res.Duel.WinnerID == nil {
			draws++
		} else {
			wins++
		}
		if *verbose {
			outcome := "draw"
			if res.Duel.WinnerID != nil {
				outcome = playerName(*res.Duel.WinnerID) + " wins"
			}
			fmt.Printf("  #%-4d %-10s vs %-10s %2d rounds  %s\n",
				d.ID, playerName(a), playerName(b), len(res.Rounds), outcome)
		}
	}

	fmt.Printf("\n✓ Completed in %s. Decided: %d, Draws: %d, Failed: %d\n\n",
		time.Since(start).Round(time.Millisecond), wins, draws, failures)

	board := service.NewLeaderboardService(nil, store, &config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 50}, logger)
	entries, err := board.Top(context.Background(), *guildID, *top)
	if err != nil {
		log.Fatalf("Failed to read leaderboard: %v", err)
	}

	fmt.Printf("  %-4s %-12s %5s %7s %6s\n", "Rank", "Player", "Wins", "Streak", "Level")
	for _, e := range entries {
		fmt.Printf("  %-4d %-12s %5d %7d %6d\n", e.Rank, playerName(e.UserID), e.Wins, e.WinStreak, e.Level)
	}
}
