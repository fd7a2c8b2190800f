package harness

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/events"
	"github.com/roach88/hubd/internal/jobs"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/signing"
	"github.com/roach88/hubd/internal/store"
	"github.com/roach88/hubd/internal/testutil"
)

// Harness executes the steps of one scenario against a fresh engine.
type Harness struct {
	engine   *engine.Engine
	clock    *testutil.ManualClock
	network  message.Network
	logger   *slog.Logger
	accounts map[message.Fid]*testutil.Account

	labels map[string]*message.Message
	names  map[string]string // hash -> label
}

type subscription struct {
	name string
	sub  *events.Subscription
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Setup steps run first
// and must succeed; subscribers attach before the flow, so traces hold only
// flow events. Step expectations and assertions that do not hold are
// reported in Result.Errors; an error is returned only when the scenario
// cannot run at all.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}
	defer h.engine.Close()

	ctx := context.Background()
	for i, step := range scenario.Setup {
		if _, err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Invoke, err)
		}
	}

	result := NewResult()
	subs := make([]subscription, 0, len(scenario.Subscribers))
	for _, s := range scenario.Subscribers {
		types := make([]events.Type, 0, len(s.Types))
		for _, name := range s.Types {
			t, err := events.ParseType(name)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
		subs = append(subs, subscription{name: s.Name, sub: h.engine.Bus().Subscribe(types...)})
		result.Traces[s.Name] = []TraceEvent{}
	}

	actx := &AssertionContext{Engine: h.engine, Labels: h.labels, Ctx: ctx}
	for i, step := range scenario.Flow {
		if step.Invoke == StepCheck {
			if err := evaluateAssertion(result, *step.Check, actx); err != nil {
				result.AddError(fmt.Sprintf("flow[%d] check: %v", i, err))
			}
			continue
		}
		outcome, err := h.execute(ctx, step)
		if msg := checkExpect(step, outcome, err); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, msg))
		}
	}

	for _, s := range subs {
		for _, ev := range s.sub.Drain() {
			result.AddTrace(s.name, h.traceEvent(ev))
		}
		s.sub.Close()
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) (*Harness, error) {
	network := message.NetworkDevnet
	if scenario.Network != "" {
		n, err := message.ParseNetwork(scenario.Network)
		if err != nil {
			return nil, err
		}
		network = n
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.ClockAtTimestamp(scenario.Now)
	opts := []engine.Option{
		engine.WithClock(clock),
		engine.WithNetwork(network),
		engine.WithLogger(logger),
	}
	if len(scenario.Prune) > 0 {
		policies := make(map[message.SetType]engine.PrunePolicy, len(scenario.Prune))
		for name, p := range scenario.Prune {
			set, err := message.ParseSetType(name)
			if err != nil {
				return nil, err
			}
			policies[set] = engine.PrunePolicy{MaxCount: p.MaxCount, MaxAgeSeconds: p.MaxAgeSeconds}
		}
		opts = append(opts, engine.WithPrunePolicies(policies))
	}

	return &Harness{
		engine:   engine.New(st, opts...),
		clock:    clock,
		network:  network,
		logger:   logger,
		accounts: make(map[message.Fid]*testutil.Account),
		labels:   make(map[string]*message.Message),
		names:    make(map[string]string),
	}, nil
}

func (h *Harness) account(fid uint64) *testutil.Account {
	a, ok := h.accounts[message.Fid(fid)]
	if !ok {
		a = testutil.NewAccount(message.Fid(fid), h.network)
		h.accounts[message.Fid(fid)] = a
	}
	return a
}

func signerFor(a *testutil.Account, name string) signing.Signer {
	if name == "" || name == "custody" {
		return a.Custody
	}
	return testutil.Delegate(name)
}

func (h *Harness) target(label string) (*message.Message, error) {
	m, ok := h.labels[label]
	if !ok {
		return nil, fmt.Errorf("unknown target label %q", label)
	}
	return m, nil
}

// execute runs one step. Steps that are not merges report OutcomeMerged on
// success.
func (h *Harness) execute(ctx context.Context, step Step) (engine.Outcome, error) {
	switch step.Invoke {
	case StepRegister:
		return h.engine.MergeIdRegistryEvent(ctx, h.account(step.Fid).Register(step.Block))
	case StepTransfer:
		return h.engine.MergeIdRegistryEvent(ctx, h.account(step.Fid).Transfer(step.Key, step.Block, step.LogIndex))
	case StepFname:
		return h.engine.MergeNameRegistryEvent(ctx, h.account(step.Fid).Fname(step.Fname, step.Block, step.LogIndex))
	case StepPrune:
		_, err := h.engine.PruneMessages(ctx, message.Fid(step.Fid))
		return engine.OutcomeMerged, err
	case StepPruneJob:
		_, err := jobs.NewPruneScheduler(h.engine, h.logger).DoJobs(ctx)
		return engine.OutcomeMerged, err
	case StepAdvanceClock:
		h.clock.Advance(time.Duration(step.Seconds) * time.Second)
		return engine.OutcomeMerged, nil
	}

	m, err := h.build(h.account(step.Fid), step)
	if err != nil {
		return 0, err
	}
	if step.Label != "" {
		h.labels[step.Label] = m
		h.names[string(m.Hash)] = step.Label
	}
	return h.engine.MergeMessage(ctx, m)
}

func (h *Harness) build(a *testutil.Account, step Step) (*message.Message, error) {
	signer := signerFor(a, step.Signer)
	switch step.Invoke {
	case StepSignerAdd:
		return a.SignerAdd(signer, step.Ts, testutil.Delegate(step.Key).Key()), nil
	case StepSignerRemove:
		return a.SignerRemove(signer, step.Ts, testutil.Delegate(step.Key).Key()), nil
	case StepCastAdd:
		return a.CastAdd(signer, step.Ts, step.Text), nil
	case StepAmpAdd:
		return a.AmpAdd(signer, step.Ts, message.Fid(step.TargetFid)), nil
	case StepAmpRemove:
		return a.AmpRemove(signer, step.Ts, message.Fid(step.TargetFid)), nil
	case StepUserData:
		return a.UserData(signer, step.Ts, message.UserDataBio, step.Text), nil
	case StepVerificationAdd:
		return a.VerificationAdd(signer, step.Ts, signing.EthSignerFromSeed([]byte(step.Key)).Key()), nil
	case StepVerificationRemove:
		return a.VerificationRemove(signer, step.Ts, signing.EthSignerFromSeed([]byte(step.Key)).Key()), nil
	}

	target, err := h.target(step.Target)
	if err != nil {
		return nil, err
	}
	switch step.Invoke {
	case StepCastRemove:
		return a.CastRemove(signer, step.Ts, target.Hash), nil
	case StepReactionAdd:
		return a.ReactionAdd(signer, step.Ts, target), nil
	case StepReactionRemove:
		return a.ReactionRemove(signer, step.Ts, target), nil
	}
	return nil, fmt.Errorf("unknown step %q", step.Invoke)
}

// checkExpect returns a failure message, or "" when the step behaved as
// expected.
func checkExpect(step Step, outcome engine.Outcome, err error) string {
	e := step.Expect
	if e == nil {
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
		return ""
	}
	if e.Error != "" {
		var he *engine.HubError
		if !errors.As(err, &he) {
			return fmt.Sprintf("expected %s error, got %v", e.Error, err)
		}
		if string(he.Code) != e.Error {
			return fmt.Sprintf("expected %s error, got %s: %v", e.Error, he.Code, err)
		}
		return ""
	}
	if err != nil {
		return fmt.Sprintf("expected outcome %s, got error: %v", e.Outcome, err)
	}
	if outcome.String() != e.Outcome {
		return fmt.Sprintf("expected outcome %s, got %s", e.Outcome, outcome)
	}
	return ""
}

func (h *Harness) label(m *message.Message) string {
	if name, ok := h.names[string(m.Hash)]; ok {
		return name
	}
	return hex.EncodeToString(m.Hash[:4])
}

func (h *Harness) traceEvent(ev events.Event) TraceEvent {
	te := TraceEvent{Seq: ev.Seq, Type: ev.Type.String()}
	switch {
	case ev.Message != nil:
		te.Fid = uint64(ev.Message.Fid())
		te.MessageType = ev.Message.Type().String()
		te.Timestamp = ev.Message.Timestamp()
		te.Message = h.label(ev.Message)
		for _, d := range ev.Deleted {
			te.Deleted = append(te.Deleted, h.label(d))
		}
	case ev.IdRegistryEvent != nil:
		te.Fid = uint64(ev.IdRegistryEvent.Fid)
		te.Block = ev.IdRegistryEvent.BlockNumber
		te.LogIndex = ev.IdRegistryEvent.LogIndex
	case ev.NameRegistryEvent != nil:
		te.Fid = uint64(ev.NameRegistryEvent.Fid)
		te.Fname = ev.NameRegistryEvent.Fname
		te.Block = ev.NameRegistryEvent.BlockNumber
		te.LogIndex = ev.NameRegistryEvent.LogIndex
	}
	return te
}
