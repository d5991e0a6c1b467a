package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lifehub/essence/internal/app/engine"
	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/redisbus"
)

// ─── Event Ingestion CLI ────────────────────────────────────────────────────
// Events are applied to the local database directly, or published to the
// Redis stream for a running `essence serve` to consume.

func init() {
	rootCmd.AddCommand(ingestCmd)
	f := ingestCmd.Flags()
	f.StringP("user", "u", "", "user ID")
	f.StringP("domain", "d", "", "source domain (todo, habits, accounting, identity)")
	f.StringP("type", "t", "", "event type, e.g. task_completed")
	f.String("id", "", "event ID (default: random UUID)")
	f.String("at", "", "occurrence time, RFC 3339 (default: now)")
	f.StringToString("payload", nil, "payload entries, key=value")
	f.StringP("file", "f", "", "read JSON events, one per line ('-' for stdin)")
	f.Bool("redis", false, "publish to the Redis stream instead of applying locally")
	f.Bool("json", false, "print results as JSON")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit domain events",
	Long: `Submit one event from flags, or many from a JSON-lines file.

  essence ingest -u alice -d todo -t task_completed
  essence ingest -f events.jsonl --redis`,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, _ []string) error {
	events, err := eventsFromFlags(cmd)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events: use --user/--domain/--type or --file")
	}

	ctx := commandContext(cmd)
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	if viaRedis, _ := cmd.Flags().GetBool("redis"); viaRedis {
		return publishEvents(ctx, out, events)
	}

	l, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	failed := 0
	for _, ev := range events {
		res, err := l.engine.SubmitAndWait(ctx, ev)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", ev.EventID, err)
			continue
		}
		if asJSON {
			if err := printJSON(out, res); err != nil {
				return err
			}
			continue
		}
		printResult(out, res)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events failed", failed, len(events))
	}
	return nil
}

func eventsFromFlags(cmd *cobra.Command) ([]domain.DomainEvent, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		var r io.Reader = cmd.InOrStdin()
		if file != "-" {
			f, err := os.Open(file)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		return readEvents(r)
	}

	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return nil, nil
	}
	dom, _ := cmd.Flags().GetString("domain")
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	at, _ := cmd.Flags().GetString("at")
	kv, _ := cmd.Flags().GetStringToString("payload")

	ev := domain.DomainEvent{
		EventID:      id,
		UserID:       user,
		SourceDomain: domain.SourceDomain(dom),
		EventType:    typ,
		OccurredAt:   time.Now().UTC(),
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("--at: %w", err)
		}
		ev.OccurredAt = t
	}
	if len(kv) > 0 {
		ev.Payload = make(map[string]any, len(kv))
		for k, v := range kv {
			ev.Payload[k] = payloadValue(v)
		}
	}
	return []domain.DomainEvent{ev}, nil
}

// readEvents parses JSON lines; events without an ID get a random one.
func readEvents(r io.Reader) ([]domain.DomainEvent, error) {
	var out []domain.DomainEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev domain.DomainEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ev.EventID == "" {
			ev.EventID = uuid.NewString()
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}

// payloadValue keeps numbers and booleans typed.
func payloadValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func publishEvents(ctx context.Context, out io.Writer, events []domain.DomainEvent) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rcfg, err := cfg.RedisConfig()
	if err != nil {
		return err
	}
	rdb, err := redisbus.Connect(ctx, rcfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	p := redisbus.NewProducer(rdb, rcfg)
	for _, ev := range events {
		id, err := p.Publish(ctx, ev)
		if err != nil {
			return fmt.Errorf("publish %s: %w", ev.EventID, err)
		}
		fmt.Fprintf(out, "%s → %s %s\n", ev.EventID, rcfg.Stream, id)
	}
	return nil
}

func printResult(w io.Writer, res engine.Result) {
	fmt.Fprintf(w, "%s  %s  +%d essence  (total %d, level %d %s)\n",
		res.EventID, res.Outcome, res.EssenceCredited, res.TotalEssence, res.Level, res.Title)
	for _, r := range res.Decision.Reasons {
		fmt.Fprintf(w, "    guard: %s\n", r)
	}
	if res.LeveledUp {
		fmt.Fprintf(w, "    ⬆ level up → %d %s\n", res.Level, res.Title)
	}
	for _, u := range res.Unlocks {
		fmt.Fprintf(w, "    🏆 %s (tier %d)\n", u.AchievementID, u.Tier)
	}
	for _, r := range res.RewardsGranted {
		fmt.Fprintf(w, "    🎁 %s\n", r)
	}
}
