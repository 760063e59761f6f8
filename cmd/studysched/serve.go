package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"studysched/internal/app"
	"studysched/internal/config"
	"studysched/internal/schedule"
	"studysched/internal/services/scheduling"
	"studysched/internal/validation"
	logx "studysched/pkg/logx"
)

// wireRequest is one line of serve input. Op selects the operation;
// "schedule" is the default.
type wireRequest struct {
	ID string `json:"id,omitempty"`
	Op string `json:"op,omitempty"`

	HealthID           string    `json:"health_id"`
	TimeZone           string    `json:"time_zone,omitempty"`
	DaysAhead          int       `json:"days_ahead,omitempty"`
	MinimumPerSchedule int       `json:"minimum_per_schedule,omitempty"`
	DataGroups         []string  `json:"data_groups,omitempty"`
	UserAgent          string    `json:"user_agent,omitempty"`
	AccountCreatedOn   time.Time `json:"account_created_on,omitzero"`
	Now                time.Time `json:"now,omitzero"`

	// report
	GUID       string     `json:"guid,omitempty"`
	StartedOn  *time.Time `json:"started_on,omitempty"`
	FinishedOn *time.Time `json:"finished_on,omitempty"`

	// event
	EventID string    `json:"event_id,omitempty"`
	At      time.Time `json:"at,omitzero"`
}

type wireResponse struct {
	ID         string                       `json:"id,omitempty"`
	Activities []schedule.ScheduledActivity `json:"activities,omitempty"`
	Activity   *schedule.ScheduledActivity  `json:"activity,omitempty"`
	Error      string                       `json:"error,omitempty"`
	Invalid    map[string][]string          `json:"invalid,omitempty"`
}

func (r wireRequest) toRequest(study config.StudyConfig) (scheduling.Request, error) {
	tz := strings.TrimSpace(r.TimeZone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := schedule.ParseTimeZone(tz)
	if err != nil {
		return scheduling.Request{}, fmt.Errorf("time_zone %q: %w", tz, err)
	}
	return scheduling.Request{
		StudyID:            study.ID,
		HealthID:           r.HealthID,
		ClientInfo:         schedule.ParseUserAgent(r.UserAgent),
		TimeZone:           loc,
		DaysAhead:          r.DaysAhead,
		MinimumPerSchedule: r.MinimumPerSchedule,
		DataGroups:         r.DataGroups,
		AccountCreatedOn:   r.AccountCreatedOn,
		Now:                r.Now,
	}, nil
}

func runServe(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs, cfgPath := newFlags("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := app.NewApp(*cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-a.Done():
				return
			case <-hup:
				a.Logger().Info("SIGHUP received; reloading plans and surveys")
				a.ReloadSources()
			}
		}
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-a.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	reason := app.StopSignal
	enc := json.NewEncoder(out)
	var runErr error
loop:
	for {
		select {
		case <-a.Done():
			if err := a.Err(); err != nil {
				reason, runErr = app.StopFatalError, err
			}
			break loop
		case err := <-readErr:
			reason, runErr = app.StopInputDone, err
			break loop
		case line := <-lines:
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			if err := enc.Encode(handle(ctx, a, line)); err != nil {
				reason, runErr = app.StopFatalError, err
				break loop
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(runErr, a.Stop(stopCtx, reason))
}

func handle(ctx context.Context, a *app.App, line []byte) wireResponse {
	var req wireRequest
	if err := config.Decode("request", line, &req); err != nil {
		return wireResponse{Error: err.Error()}
	}
	resp := wireResponse{ID: req.ID}
	svc := a.Scheduling()

	var err error
	switch strings.ToLower(strings.TrimSpace(req.Op)) {
	case "", "schedule":
		var sreq scheduling.Request
		if sreq, err = req.toRequest(a.Config().Study); err == nil {
			resp.Activities, err = svc.GetScheduledActivities(ctx, sreq)
			if resp.Activities == nil && err == nil {
				resp.Activities = []schedule.ScheduledActivity{}
			}
		}
	case "report":
		var act schedule.ScheduledActivity
		act, err = svc.ReportResult(ctx, req.HealthID, scheduling.Result{GUID: req.GUID, StartedOn: req.StartedOn, FinishedOn: req.FinishedOn})
		if err == nil {
			resp.Activity = &act
		}
	case "event":
		err = svc.RecordEvent(ctx, req.HealthID, req.EventID, req.At)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		resp.Error = err.Error()
		var verr *validation.Errors
		if errors.As(err, &verr) {
			resp.Invalid = verr.Fields()
		}
		a.Logger().Debug("request failed", logx.String("op", req.Op), logx.String("health_id", req.HealthID), logx.Err(err))
	}
	return resp
}
