package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Concurrency is how a batch schedules its items.
type Concurrency string

const (
	// Parallel starts up to Parallelism items at once.
	Parallel Concurrency = "parallel"
	// Sequential starts one item at a time, at most one per Delay.
	Sequential Concurrency = "sequential"
)

// ParseConcurrency accepts parallel or sequential; empty means sequential.
func ParseConcurrency(s string) (Concurrency, error) {
	switch Concurrency(s) {
	case "":
		return Sequential, nil
	case Parallel, Sequential:
		return Concurrency(s), nil
	default:
		return "", fmt.Errorf("unknown batch mode %q", s)
	}
}

// BatchPolicy governs how a supervision request is processed.
type BatchPolicy struct {
	Mode        Concurrency
	Parallelism int
	Delay       time.Duration
	// MaxItems of zero means unlimited; items past the cap fail with ErrBatchLimit.
	MaxItems       int
	MinTokenLength int
}

// Item is one credential/channel pair of a request.
type Item struct {
	Credential string
	ChannelID  string
}

// Report is the result of a batch, outcomes in request order.
type Report struct {
	Outcomes   []Outcome
	Total      int
	Successful int
	Failed     int
	ByKind     map[credential.Kind]int
}

// Starter is the part of the supervisor the orchestrator drives.
type Starter interface {
	Start(ctx context.Context, token, channelID string) Outcome
}

// Orchestrator applies a BatchPolicy to supervision requests. One item's failure
// never affects the others.
type Orchestrator struct {
	starter Starter
	policy  BatchPolicy
	log     *zap.Logger
}

func NewOrchestrator(starter Starter, policy BatchPolicy, log *zap.Logger) *Orchestrator {
	if policy.Mode == "" {
		policy.Mode = Sequential
	}
	if policy.Parallelism <= 0 {
		policy.Parallelism = 4
	}
	if policy.MinTokenLength <= 0 {
		policy.MinTokenLength = credential.DefaultMinLength
	}
	return &Orchestrator{starter: starter, policy: policy, log: log.Named("batch")}
}

// Run processes items and always returns one outcome per item.
func (o *Orchestrator) Run(ctx context.Context, items []Item) Report {
	outcomes := make([]Outcome, len(items))
	var pending []int
	for i, it := range items {
		if o.policy.MaxItems > 0 && i >= o.policy.MaxItems {
			outcomes[i] = NewFailure(it.Credential, it.ChannelID,
				fmt.Errorf("%w: at most %d credentials per request", errs.ErrBatchLimit, o.policy.MaxItems))
			continue
		}
		if err := credential.Validate(it.Credential, o.policy.MinTokenLength); err != nil {
			outcomes[i] = NewFailure(it.Credential, it.ChannelID, err)
			continue
		}
		pending = append(pending, i)
	}

	if o.policy.Mode == Parallel {
		o.runParallel(ctx, items, pending, outcomes)
	} else {
		o.runSequential(ctx, items, pending, outcomes)
	}
	return summarize(outcomes)
}

func (o *Orchestrator) runParallel(ctx context.Context, items []Item, pending []int, outcomes []Outcome) {
	var g errgroup.Group
	g.SetLimit(o.policy.Parallelism)
	for _, i := range pending {
		i := i
		g.Go(func() error {
			outcomes[i] = o.startOne(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runSequential(ctx context.Context, items []Item, pending []int, outcomes []Outcome) {
	limit := rate.Inf
	if o.policy.Delay > 0 {
		limit = rate.Every(o.policy.Delay)
	}
	lim := rate.NewLimiter(limit, 1)
	for _, i := range pending {
		if err := lim.Wait(ctx); err != nil {
			outcomes[i] = NewFailure(items[i].Credential, items[i].ChannelID, fmt.Errorf("batch interrupted: %w", err))
			continue
		}
		outcomes[i] = o.startOne(ctx, items[i])
	}
}

// startOne isolates a single item: a panic becomes a generic failure.
func (o *Orchestrator) startOne(ctx context.Context, it Item) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("batch item panicked", zap.String("token", credential.Mask(it.Credential)), zap.Any("panic", r))
			out = NewFailure(it.Credential, it.ChannelID, errs.ErrInternal)
		}
	}()
	return o.starter.Start(ctx, it.Credential, it.ChannelID)
}

func summarize(outcomes []Outcome) Report {
	r := Report{
		Outcomes: outcomes,
		Total:    len(outcomes),
		ByKind:   map[credential.Kind]int{credential.KindBot: 0, credential.KindUser: 0},
	}
	for _, o := range outcomes {
		r.ByKind[o.Kind]++
		if o.Status == OutcomeSuccess {
			r.Successful++
		} else {
			r.Failed++
		}
	}
	return r
}
