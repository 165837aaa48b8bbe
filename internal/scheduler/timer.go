package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brensch/jusosync/internal/errs"
)

// specParser accepts classic 5-field specs and Quartz-style specs with a
// leading seconds field.
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NormalizeSpec rewrites Quartz syntax into robfig's. '?' becomes '*', and in
// six-field specs numeric day-of-week values move from Quartz's 1=SUN..7=SAT
// to 0=SUN..6=SAT. Quartz's L and # modifiers are rejected.
func NormalizeSpec(spec string) (string, error) {
	spec = strings.TrimSpace(spec)
	var prefix string
	if strings.HasPrefix(spec, "TZ=") || strings.HasPrefix(spec, "CRON_TZ=") {
		tz, rest, _ := strings.Cut(spec, " ")
		prefix, spec = tz+" ", strings.TrimSpace(rest)
	}
	spec = strings.ReplaceAll(spec, "?", "*")

	fields := strings.Fields(spec)
	if len(fields) == 6 {
		dow, err := quartzDow(fields[5])
		if err != nil {
			return "", errs.Configf("invalid day-of-week %q in schedule %q: %v", fields[5], spec, err)
		}
		fields[5] = dow
		spec = strings.Join(fields, " ")
	}
	return prefix + spec, nil
}

// quartzDow shifts every numeric day in a Quartz day-of-week field down by
// one. Step values after '/' are intervals and stay as they are.
func quartzDow(field string) (string, error) {
	if strings.ContainsAny(field, "L#") {
		return "", fmt.Errorf("the L and # modifiers are not supported")
	}
	parts := strings.Split(field, ",")
	for i, part := range parts {
		base, step, hasStep := strings.Cut(part, "/")
		bounds := strings.Split(base, "-")
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue // '*' or a day name
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day %d is outside 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-")
		if hasStep {
			parts[i] += "/" + step
		}
	}
	return strings.Join(parts, ","), nil
}

// ParseSpec validates a schedule expression.
func ParseSpec(spec string, loc *time.Location) (cron.Schedule, error) {
	normalized, err := NormalizeSpec(spec)
	if err != nil {
		return nil, err
	}
	if loc != nil && !strings.HasPrefix(normalized, "TZ=") && !strings.HasPrefix(normalized, "CRON_TZ=") {
		normalized = "CRON_TZ=" + loc.String() + " " + normalized
	}
	sched, err := specParser.Parse(normalized)
	if err != nil {
		return nil, errs.Configf("invalid schedule %q: %v", spec, err)
	}
	return sched, nil
}

// Timer fires a job on a cron schedule. Overlapping firings are skipped.
type Timer struct {
	cron   *cron.Cron
	spec   string
	entry  cron.EntryID
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewTimer schedules job on spec in loc. The job receives the context given
// to Start, which is cancelled by Stop.
func NewTimer(spec string, loc *time.Location, logger *slog.Logger) (*Timer, error) {
	if _, err := ParseSpec(spec, loc); err != nil {
		return nil, err
	}
	normalized, err := NormalizeSpec(spec)
	if err != nil {
		return nil, err
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Timer{cron: c, spec: normalized, logger: logger}, nil
}

// Start begins firing job until Stop is called.
func (t *Timer) Start(ctx context.Context, job func(ctx context.Context)) error {
	ctx, t.cancel = context.WithCancel(ctx)
	id, err := t.cron.AddFunc(t.spec, func() { job(ctx) })
	if err != nil {
		t.cancel()
		return fmt.Errorf("failed to schedule %q: %w", t.spec, err)
	}
	t.entry = id
	t.cron.Start()
	t.logger.Info("Timer started.", slog.String("spec", t.spec), slog.Time("next", t.Next()))
	return nil
}

// Next is the next firing time, zero before Start.
func (t *Timer) Next() time.Time {
	if t.entry == 0 {
		return time.Time{}
	}
	return t.cron.Entry(t.entry).Next
}

// Stop prevents further firings, cancels a running job's context and waits
// for it to return or for ctx to end.
func (t *Timer) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	if t.cancel != nil {
		t.cancel()
	}
	select {
	case <-done.Done():
		t.logger.Info("Timer stopped.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timer job did not finish: %w", ctx.Err())
	}
}

// cronLogger adapts slog to cron.Logger. Cron's info chatter goes to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
