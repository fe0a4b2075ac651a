package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"studynerd/internal/config"
	"studynerd/internal/logging"
	"studynerd/internal/research"
	"studynerd/internal/store"
	"studynerd/internal/stream"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "studynerd",
	Short: "studyNERD - research session inspector",
	Long: `studyNERD is the headless core of a desktop study/research assistant.

It consumes the progress-event stream of a long-running, multi-round,
multi-agent research orchestration and folds it into a bounded, queryable
session state: per-round views, per-sub-agent progress, artifacts and the
accumulated synthesis. This CLI replays recorded streams, tails live ones
and moves persisted round snapshots in and out of the local store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}

		if err := logging.Initialize(workspace, logging.Settings{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			logger.Warn("Categorized logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// replayCmd dispatches a recorded NDJSON event stream into the reducer.
var replayCmd = &cobra.Command{
	Use:   "replay <events.ndjson>",
	Short: "Replay a recorded event stream and print the composed session state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")

		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open event stream: %w", err)
		}
		defer file.Close()

		red := research.NewReducer()
		red.SetMaxSteps(cfg.Research.MaxSteps)

		start := time.Now()
		n, err := stream.Replay(cmd.Context(), file, red)
		if err != nil {
			return err
		}
		logger.Info("Replay finished",
			zap.Int("events", n),
			zap.Duration("elapsed", time.Since(start)))

		printSession(red)

		if save {
			return saveAllRounds(red)
		}
		return nil
	},
}

// tailCmd follows a live event file until interrupted.
var tailCmd = &cobra.Command{
	Use:   "tail [events.ndjson]",
	Short: "Follow a live event file, printing session progress",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Stream.EventFile
		if len(args) == 1 {
			path = args[0]
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		follower, err := stream.NewFollower(path, time.Duration(cfg.Stream.DebounceMS)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to create follower: %w", err)
		}
		if err := follower.Start(ctx); err != nil {
			return err
		}
		defer follower.Stop()

		logger.Info("Following event stream", zap.String("path", path))

		red := research.NewReducer()
		red.SetMaxSteps(cfg.Research.MaxSteps)

		for {
			select {
			case <-ctx.Done():
				printSession(red)
				return nil
			case evt, ok := <-follower.Events():
				if !ok {
					printSession(red)
					return nil
				}
				red.Dispatch(evt)
				logger.Debug("Event dispatched",
					zap.String("type", string(evt.Type)),
					zap.Int("round", evt.Round))
			}
		}
	},
}

// sessionsCmd lists sessions with persisted snapshots.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions with stored round snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListSessions()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No stored sessions.")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%-40s rounds=%-3d updated=%s\n",
				rec.SessionID, rec.Rounds, rec.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

// showCmd hydrates one stored round and prints its view.
var showCmd = &cobra.Command{
	Use:   "show <session-id> <round>",
	Short: "Hydrate a stored round snapshot and print the round view",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roundNo int
		if _, err := fmt.Sscanf(args[1], "%d", &roundNo); err != nil {
			return fmt.Errorf("invalid round number %q", args[1])
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := st.LoadVisualSummary(args[0], roundNo)
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("no snapshot for session %s round %d", args[0], roundNo)
		}

		red := research.NewReducer()
		red.HydrateRoundFromVisualSummary(args[0], roundNo, snap)
		printSession(red)
		return nil
	},
}

// roundsCmd lists the stored round numbers of one session.
var roundsCmd = &cobra.Command{
	Use:   "rounds <session-id>",
	Short: "List stored round numbers for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rounds, err := st.ListRounds(args[0])
		if err != nil {
			return err
		}
		if len(rounds) == 0 {
			fmt.Println("No stored rounds.")
			return nil
		}
		for _, n := range rounds {
			fmt.Println(n)
		}
		return nil
	},
}

// sessionExport is the portable JSON shape moved by export/import.
type sessionExport struct {
	SessionID string                          `json:"session_id"`
	Rounds    map[int]*research.VisualSummary `json:"rounds"`
}

// exportCmd dumps every stored round of a session to a JSON file.
var exportCmd = &cobra.Command{
	Use:   "export <session-id> <file.json>",
	Short: "Export a session's stored round snapshots to JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rounds, err := st.ListRounds(args[0])
		if err != nil {
			return err
		}
		if len(rounds) == 0 {
			return fmt.Errorf("no stored rounds for session %s", args[0])
		}

		out := sessionExport{SessionID: args[0], Rounds: make(map[int]*research.VisualSummary, len(rounds))}
		for _, n := range rounds {
			snap, err := st.LoadVisualSummary(args[0], n)
			if err != nil {
				return err
			}
			out.Rounds[n] = snap
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		logger.Info("Session exported",
			zap.String("session", args[0]),
			zap.Int("rounds", len(rounds)),
			zap.String("file", args[1]))
		return nil
	},
}

// importCmd loads an exported session file into the snapshot store.
var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import an exported session file into the snapshot store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read export: %w", err)
		}
		var in sessionExport
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("failed to parse export: %w", err)
		}
		if in.SessionID == "" || len(in.Rounds) == 0 {
			return fmt.Errorf("export carries no session or rounds")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		for n, snap := range in.Rounds {
			if err := st.SaveVisualSummary(in.SessionID, n, snap); err != nil {
				return err
			}
		}
		logger.Info("Session imported",
			zap.String("session", in.SessionID),
			zap.Int("rounds", len(in.Rounds)))
		return nil
	},
}

// openStore opens the configured snapshot database.
func openStore() (*store.SnapshotStore, error) {
	return store.Open(resolvePath(cfg.Storage.DatabasePath))
}

// resolvePath anchors relative config paths at the workspace.
func resolvePath(p string) string {
	if p == "" || os.IsPathSeparator(p[0]) {
		return p
	}
	return workspace + string(os.PathSeparator) + p
}

// saveAllRounds persists a visual summary for every round the reducer
// derived, so a replayed session becomes resumable without its stream.
func saveAllRounds(red *research.Reducer) error {
	if red.SessionID() == "" {
		return fmt.Errorf("cannot save: stream carried no session identity")
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	for roundNo, rv := range red.Rounds() {
		snap := research.SummaryFromRound(red, rv)
		if err := st.SaveVisualSummary(red.SessionID(), roundNo, snap); err != nil {
			return err
		}
		logger.Info("Round snapshot saved",
			zap.String("session", red.SessionID()),
			zap.Int("round", roundNo))
	}
	return nil
}

// printSession renders the composed read model as plain text. This is a
// debugging surface; the desktop client renders the same read model.
func printSession(red *research.Reducer) {
	fmt.Printf("session: %s\n", orDash(red.SessionID()))
	fmt.Printf("question: %s\n", orDash(red.Question()))
	fmt.Printf("round: %d  mode: %s\n", red.Round(), orDash(string(red.Mode())))

	rounds := red.Rounds()
	nums := make([]int, 0, len(rounds))
	for n := range rounds {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		rv := rounds[n]
		fmt.Printf("  round %d: status=%s", n, rv.Status)
		if rv.MetricsJSON != "" {
			fmt.Printf(" metrics=%s", rv.MetricsJSON)
		}
		fmt.Println()
	}

	agents := red.SubAgents()
	ids := make([]int, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		sa := agents[id]
		fmt.Printf("  sub-agent %d: status=%s progress=%.0f%% steps=%d  %s\n",
			id, sa.Status, sa.Progress*100, len(sa.Steps), sa.LastActivity)
	}

	if s := red.Synthesis(); s != "" {
		fmt.Printf("synthesis: %d chars\n", len(s))
	}
	fmt.Printf("events retained: %d\n", len(red.EventLog()))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")

	replayCmd.Flags().Bool("save", false, "persist a visual summary per round after replay")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(roundsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
