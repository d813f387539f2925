package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/wybie18/codeknight-go/internal/attempt"
	"github.com/wybie18/codeknight-go/internal/config"
	"github.com/wybie18/codeknight-go/internal/db"
	"github.com/wybie18/codeknight-go/internal/eventlog"
	"github.com/wybie18/codeknight-go/internal/platform"
)

const usage = `usage: codeknight <command> [args]

commands:
  login <username>       obtain a bearer token
  tests                  list available tests
  take <slug>            take or resume a test
  courses                list courses with progress
  leaderboard            show the top ranks
  achievements           list achievements
`

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(log)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.FromEnv()
	client := platform.NewClient(cfg.APIBaseURL, cfg.APIToken, platform.WithTimeout(cfg.APITimeout))
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "login":
		err = runLogin(ctx, client, os.Args[2:])
	case "tests":
		err = runTests(ctx, client)
	case "take":
		err = runTake(ctx, cfg, client, os.Args[2:])
	case "courses":
		err = runCourses(ctx, client)
	case "leaderboard":
		err = runLeaderboard(ctx, client)
	case "achievements":
		err = runAchievements(ctx, client)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runLogin(ctx context.Context, client *platform.Client, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: codeknight login <username>")
	}
	fmt.Print("password: ")
	in := bufio.NewScanner(os.Stdin)
	if !in.Scan() {
		return errors.New("no password given")
	}
	token, err := client.Login(ctx, args[0], strings.TrimSpace(in.Text()))
	if err != nil {
		return err
	}
	fmt.Println("export CK_API_TOKEN=" + token)
	return nil
}

func runTests(ctx context.Context, client *platform.Client) error {
	tests, err := client.ListTests(ctx)
	if err != nil {
		return err
	}
	for _, t := range tests {
		dur := "untimed"
		if t.DurationMinutes != nil {
			dur = fmt.Sprintf("%d min", *t.DurationMinutes)
		}
		fmt.Printf("%-20s %-30s %s  %.0f pts  [%s]\n", t.Slug, t.Title, dur, t.TotalPoints, t.Status)
	}
	return nil
}

func runCourses(ctx context.Context, client *platform.Client) error {
	courses, err := client.ListCourses(ctx)
	if err != nil {
		return err
	}
	for _, c := range courses {
		fmt.Printf("%-20s %-30s %d lessons, %d%% done\n", c.Slug, c.Title, c.Lessons, c.Progress)
	}
	return nil
}

func runLeaderboard(ctx context.Context, client *platform.Client) error {
	entries, err := client.GetLeaderboard(ctx, 20)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%3d. %-20s %d pts\n", e.Rank, e.Username, e.Points)
	}
	return nil
}

func runAchievements(ctx context.Context, client *platform.Client) error {
	list, err := client.ListAchievements(ctx)
	if err != nil {
		return err
	}
	for _, a := range list {
		mark := " "
		if a.EarnedAt != nil {
			mark = "x"
		}
		fmt.Printf("[%s] %-25s %s\n", mark, a.Name, a.Description)
	}
	return nil
}

func runTake(ctx context.Context, cfg config.Config, client *platform.Client, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: codeknight take <slug>")
	}
	slug := args[0]

	opts := []attempt.Option{
		attempt.WithMaxViolations(cfg.MaxViolations),
		attempt.WithAutoSaveDelay(cfg.AutoSaveDelay),
		attempt.WithHooks(attempt.Hooks{
			OnWarning: func(msg string) { fmt.Println("\n!", msg) },
			OnTick: func(left int) {
				if left <= 10 || left%60 == 0 {
					fmt.Printf("\r  time left: %02d:%02d ", left/60, left%60)
				}
			},
			OnResult: printResult,
		}),
	}
	if cfg.EventLogDSN != "" {
		if adb, err := db.Open(ctx, db.DriverSQLite, cfg.EventLogDSN); err == nil {
			opts = append(opts, attempt.WithAuditLog(eventlog.NewRepo(adb)))
		} else {
			slog.Warn("audit log unavailable", "error", err)
		}
	}

	ctrl := attempt.NewController(client, slug, opts...)
	defer ctrl.Close()

	if err := ctrl.Load(ctx); err != nil {
		return err
	}

	in := bufio.NewScanner(os.Stdin)
	switch ctrl.State() {
	case attempt.StateOverview:
		t := ctrl.Test()
		fmt.Printf("%s: %.0f points", t.Title, t.TotalPoints)
		if t.DurationMinutes != nil {
			fmt.Printf(", %d minutes", *t.DurationMinutes)
		}
		fmt.Println()
		if !confirm(in, "start the test now?") {
			return nil
		}
		if err := ctrl.Start(ctx); err != nil {
			return err
		}
	case attempt.StateAttempt:
		fmt.Println("resuming your attempt in progress")
	case attempt.StateViewResult, attempt.StateResult:
		return nil // result already printed via hook
	}

	return attemptLoop(ctx, ctrl, in)
}

func attemptLoop(ctx context.Context, ctrl *attempt.Controller, in *bufio.Scanner) error {
	printItems(ctrl)
	fmt.Println(`answer with "<item#> <value>", or: items, time, submit, quit`)
	for ctrl.State() == attempt.StateAttempt {
		fmt.Print("> ")
		if !in.Scan() {
			return nil
		}
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
		case line == "items":
			printItems(ctrl)
		case line == "time":
			left := ctrl.TimeLeft()
			fmt.Printf("time left: %02d:%02d\n", left/60, left%60)
		case line == "quit":
			return nil
		case line == "submit":
			err := ctrl.Submit(ctx, false)
			var inc *attempt.IncompleteError
			if errors.As(err, &inc) {
				if !confirm(in, fmt.Sprintf("you have %s, submit anyway?", inc.Error())) {
					continue
				}
				err = ctrl.Submit(ctx, true)
			}
			if err != nil && !errors.Is(err, attempt.ErrSubmitInFlight) && !errors.Is(err, attempt.ErrNotInAttempt) {
				fmt.Println("submit failed:", err)
			}
		default:
			recordFromLine(ctrl, line)
		}
	}
	return nil
}

func recordFromLine(ctrl *attempt.Controller, line string) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 {
		fmt.Println("expected: <item#> <value>")
		return
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		fmt.Println("bad item number")
		return
	}
	value := parseAnswer(ctrl, id, strings.TrimSpace(fields[1]))
	ctrl.RecordAnswer(id, value)
	fmt.Println("recorded")
}

// parseAnswer shapes the raw input per item type: option index for
// multiple choice, bool for boolean, text otherwise.
func parseAnswer(ctrl *attempt.Controller, itemID int64, raw string) any {
	t := ctrl.Test()
	if t == nil {
		return raw
	}
	for _, it := range t.Items {
		if it.ID != itemID {
			continue
		}
		switch it.Type {
		case platform.ItemMultipleChoice:
			if n, err := strconv.Atoi(raw); err == nil {
				return n
			}
		case platform.ItemBoolean:
			if b, err := strconv.ParseBool(raw); err == nil {
				return b
			}
		case platform.ItemCoding:
			return platform.CodeAnswer{Language: "go", Code: raw}
		}
	}
	return raw
}

func printItems(ctrl *attempt.Controller) {
	t := ctrl.Test()
	if t == nil {
		return
	}
	answers := ctrl.Answers()
	for _, it := range t.Items {
		mark := " "
		if _, ok := answers[it.ID]; ok {
			mark = "x"
		}
		fmt.Printf("[%s] %d. (%.0f pts) %s\n", mark, it.ID, it.Points, itemPrompt(it))
	}
}

func itemPrompt(it platform.TestItem) string {
	switch p := it.Payload.(type) {
	case *platform.MultipleChoiceQuestion:
		return fmt.Sprintf("%s %v", p.Question, p.Options)
	case *platform.FillBlankQuestion:
		return p.Question
	case *platform.BooleanQuestion:
		return p.Question + " (true/false)"
	case *platform.CodingProblem:
		return p.Title + ": " + p.Description
	case *platform.EssayPrompt:
		return p.Prompt
	default:
		return "unknown item"
	}
}

func printResult(r attempt.Result) {
	fmt.Printf("\nscore: %.1f / %.1f (%.0f%%)\n", r.Score, r.TotalPoints, r.Percentage)
	if r.Passed {
		fmt.Println("passed")
	} else {
		fmt.Println("not passed")
	}
	if r.NeedsManualGrading {
		fmt.Printf("%d of %d items graded; the rest await manual grading\n", r.GradedItems, r.TotalItems)
	}
	if len(r.Violations) > 0 {
		fmt.Printf("violations recorded this session: %d\n", len(r.Violations))
	}
}

// confirm reads one line from the shared stdin scanner; a second scanner
// over os.Stdin would swallow input buffered for the attempt loop.
func confirm(in *bufio.Scanner, prompt string) bool {
	fmt.Print(prompt + " [y/N] ")
	if !in.Scan() {
		return false
	}
	s := strings.ToLower(strings.TrimSpace(in.Text()))
	return s == "y" || s == "yes"
}
