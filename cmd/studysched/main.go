package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"studysched/internal/app"
	"studysched/internal/config"
	"studysched/internal/schedule"
	"studysched/internal/services/scheduling"
	"studysched/internal/validation"
	logx "studysched/pkg/logx"
)

const usage = `usage: studysched <command> [flags]

commands:
  validate   check the config, plan file and survey catalog
  enroll     record a participant's enrollment event
  schedule   compute, reconcile and print a participant's activities
  report     record that an activity was started or finished
  serve      answer JSON requests on stdin, one per line, with config hot reload
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "validate":
		err = runValidate(args, os.Stdout)
	case "enroll":
		err = runEnroll(ctx, args, os.Stdout)
	case "schedule":
		err = runSchedule(ctx, args, os.Stdout)
	case "report":
		err = runReport(ctx, args, os.Stdout)
	case "serve":
		err = runServe(ctx, args, os.Stdin, os.Stdout)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		var verr *validation.Errors
		if errors.As(err, &verr) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func newFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", "./config.yaml", "path to config (json or yaml)")
	return fs, cfgPath
}

// withApp opens the app for a one-shot command and always stops it.
func withApp(cfgPath string, fn func(a *app.App) error) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopInputDone)
	}()
	return fn(a)
}

func runValidate(args []string, out io.Writer) error {
	fs, cfgPath := newFlags("validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m := config.NewManager(*cfgPath)
	m.SetLogger(logx.NewConsole("warn").With(logx.Component("config")))
	cfg, err := m.Load()
	if err != nil {
		return err
	}
	if err := app.ValidateConfig(cfg, m.ResolvePath); err != nil {
		return err
	}
	src, err := app.LoadSources(cfg, m.ResolvePath)
	if err != nil {
		return err
	}
	surveys := 0
	if src.Surveys != nil {
		surveys = len(src.Surveys.GUIDs())
	}
	_, err = fmt.Fprintf(out, "ok: study %s, %d plans, %d published surveys\n", cfg.Study.ID, len(src.Plans), surveys)
	return err
}

func runEnroll(ctx context.Context, args []string, out io.Writer) error {
	fs, cfgPath := newFlags("enroll")
	healthID := fs.String("health", "", "participant health id (generated when empty)")
	event := fs.String("event", schedule.DefaultEventID, "event id to record")
	at := fs.String("at", "", "event time, RFC 3339 (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	when, err := parseTime("at", *at)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(*healthID)
	if id == "" {
		id = uuid.NewString()
	}
	return withApp(*cfgPath, func(a *app.App) error {
		if err := a.Scheduling().RecordEvent(ctx, id, *event, when); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, id)
		return err
	})
}

func runSchedule(ctx context.Context, args []string, out io.Writer) error {
	fs, cfgPath := newFlags("schedule")
	var r wireRequest
	fs.StringVar(&r.HealthID, "health", "", "participant health id")
	fs.StringVar(&r.TimeZone, "tz", "UTC", "participant time zone: IANA name or UTC offset like -07:00")
	fs.IntVar(&r.DaysAhead, "days", 0, "days ahead to schedule (0 uses the configured default)")
	fs.IntVar(&r.MinimumPerSchedule, "min", 0, "minimum instances per schedule")
	fs.StringVar(&r.UserAgent, "ua", "", `client user agent, e.g. "Asthma/12"`)
	groups := fs.String("groups", "", "comma-separated data groups")
	created := fs.String("created", "", "account creation time, RFC 3339")
	now := fs.String("now", "", "evaluate at this time, RFC 3339 (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r.DataGroups = splitList(*groups)
	var err error
	if r.AccountCreatedOn, err = parseTime("created", *created); err != nil {
		return err
	}
	if r.Now, err = parseTime("now", *now); err != nil {
		return err
	}
	return withApp(*cfgPath, func(a *app.App) error {
		req, err := r.toRequest(a.Config().Study)
		if err != nil {
			return err
		}
		acts, err := a.Scheduling().GetScheduledActivities(ctx, req)
		if err != nil {
			return err
		}
		return writeJSON(out, acts)
	})
}

func runReport(ctx context.Context, args []string, out io.Writer) error {
	fs, cfgPath := newFlags("report")
	healthID := fs.String("health", "", "participant health id")
	guid := fs.String("guid", "", "scheduled activity guid")
	started := fs.String("started", "", "started time, RFC 3339")
	finished := fs.String("finished", "", "finished time, RFC 3339")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var res scheduling.Result
	res.GUID = *guid
	for _, p := range []struct {
		name, raw string
		dst       **time.Time
	}{{"started", *started, &res.StartedOn}, {"finished", *finished, &res.FinishedOn}} {
		t, err := parseTime(p.name, p.raw)
		if err != nil {
			return err
		}
		if !t.IsZero() {
			*p.dst = &t
		}
	}
	if res.StartedOn == nil && res.FinishedOn == nil {
		return fmt.Errorf("report needs -started or -finished")
	}
	return withApp(*cfgPath, func(a *app.App) error {
		act, err := a.Scheduling().ReportResult(ctx, *healthID, res)
		if err != nil {
			return err
		}
		return writeJSON(out, act)
	})
}

func parseTime(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: %w", name, err)
	}
	return t, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
