package conference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/dialverse/call-gateway/pkg/logger"
	"github.com/dialverse/call-gateway/pkg/telnyx"
	"go.uber.org/zap"
)

// ProviderActions is the slice of the provider client the coordinator needs.
type ProviderActions interface {
	CreateConference(ctx context.Context, controlID, name string, record telnyx.RecordConfig) (string, error)
	JoinConference(ctx context.Context, conferenceID, controlID string) error
	StartConferenceRecording(ctx context.Context, conferenceID string, record telnyx.RecordConfig) error
	StopConferenceRecording(ctx context.Context, conferenceID string) error
	HoldConference(ctx context.Context, conferenceID string, controlIDs []string) error
	ResumeConference(ctx context.Context, conferenceID string, controlIDs []string) error
}

// Coordinator bridges the legs of each call into a provider conference.
//
// The first leg to answer wins leader election under a per-call lock, creates
// the conference and starts the single dual-channel recording; every later leg
// joins the existing conference. Election is local per call id, so two legs
// answering in the same instant still produce exactly one conference.
type Coordinator struct {
	provider ProviderActions

	// stabilization is how long to wait after conference creation before
	// starting the recording, so the provider-side mixer is ready.
	stabilization time.Duration
	sleep         func(context.Context, time.Duration)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	confs map[string]*domain.ConferenceState
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStabilizationDelay overrides the pre-recording settle delay.
func WithStabilizationDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.stabilization = d }
}

// WithSleep overrides the delay primitive, for tests.
func WithSleep(fn func(context.Context, time.Duration)) Option {
	return func(c *Coordinator) { c.sleep = fn }
}

// NewCoordinator creates a coordinator over the given provider client.
func NewCoordinator(provider ProviderActions, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:      provider,
		stabilization: 500 * time.Millisecond,
		sleep:         sleepCtx,
		locks:         make(map[string]*sync.Mutex),
		confs:         make(map[string]*domain.ConferenceState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Coordinator) lockFor(callID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[callID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[callID] = l
	}
	return l
}

// LegAnswered handles one answered leg. It returns the conference id the leg
// ended up in and whether this leg was elected leader. Re-answer events for a
// leg already in the conference are no-ops.
func (c *Coordinator) LegAnswered(ctx context.Context, callID, controlID string) (conferenceID string, leader bool, err error) {
	l := c.lockFor(callID)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	conf := c.confs[callID]
	c.mu.Unlock()

	if conf == nil {
		return c.electLeader(ctx, callID, controlID)
	}

	for _, p := range conf.Participants {
		if p == controlID {
			return conf.ConferenceID, controlID == conf.LeaderControlID, nil
		}
	}

	if err := c.provider.JoinConference(ctx, conf.ConferenceID, controlID); err != nil {
		return "", false, fmt.Errorf("join conference %s: %w", conf.ConferenceID, err)
	}
	conf.Participants = append(conf.Participants, controlID)

	logger.Base().Info("Leg joined conference",
		zap.String("call_id", callID),
		zap.String("conference_id", conf.ConferenceID),
		zap.String("call_control_id", controlID),
	)
	return conf.ConferenceID, false, nil
}

// electLeader runs under the per-call lock.
func (c *Coordinator) electLeader(ctx context.Context, callID, controlID string) (string, bool, error) {
	record := telnyx.RecordConfig{Format: "wav", Channels: "dual"}

	name := fmt.Sprintf("call-%s", callID)
	confID, err := c.provider.CreateConference(ctx, controlID, name, record)
	if err != nil {
		return "", false, fmt.Errorf("create conference for call %s: %w", callID, err)
	}

	conf := &domain.ConferenceState{
		CallID:          callID,
		ConferenceID:    confID,
		ConferenceName:  name,
		LeaderControlID: controlID,
		Participants:    []string{controlID},
		CreatedAt:       time.Now(),
	}
	c.mu.Lock()
	c.confs[callID] = conf
	c.mu.Unlock()

	logger.Base().Info("Conference created, leg elected leader",
		zap.String("call_id", callID),
		zap.String("conference_id", confID),
		zap.String("call_control_id", controlID),
	)

	// Let the conference settle before asking for the recording; a
	// record_start fired immediately after creation is dropped by the
	// provider often enough to matter.
	c.sleep(ctx, c.stabilization)

	if err := c.provider.StartConferenceRecording(ctx, confID, record); err != nil {
		// The call proceeds unrecorded rather than failing the bridge.
		logger.Base().Error("Failed to start conference recording",
			zap.String("call_id", callID),
			zap.String("conference_id", confID),
			zap.Error(err),
		)
		return confID, true, nil
	}
	conf.RecordingActive = true
	return confID, true, nil
}

// Get returns the tracked conference for a call, or nil.
func (c *Coordinator) Get(callID string) *domain.ConferenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conf, ok := c.confs[callID]; ok {
		cp := *conf
		cp.Participants = append([]string(nil), conf.Participants...)
		return &cp
	}
	return nil
}

// Hold puts every participant of a call's conference on hold.
func (c *Coordinator) Hold(ctx context.Context, callID string) error {
	conf := c.Get(callID)
	if conf == nil {
		return fmt.Errorf("no conference for call %s", callID)
	}
	return c.provider.HoldConference(ctx, conf.ConferenceID, conf.Participants)
}

// Resume takes every participant of a call's conference off hold.
func (c *Coordinator) Resume(ctx context.Context, callID string) error {
	conf := c.Get(callID)
	if conf == nil {
		return fmt.Errorf("no conference for call %s", callID)
	}
	return c.provider.ResumeConference(ctx, conf.ConferenceID, conf.Participants)
}

// Release drops the tracked conference state for an ended call. Recording
// stop is best effort; the provider tears the conference down with its last
// leg regardless.
func (c *Coordinator) Release(ctx context.Context, callID string) {
	c.mu.Lock()
	conf := c.confs[callID]
	delete(c.confs, callID)
	delete(c.locks, callID)
	c.mu.Unlock()

	if conf == nil || !conf.RecordingActive {
		return
	}
	if err := c.provider.StopConferenceRecording(ctx, conf.ConferenceID); err != nil {
		logger.Base().Debug("Conference recording stop after call end",
			zap.String("call_id", callID),
			zap.String("conference_id", conf.ConferenceID),
			zap.Error(err),
		)
	}
}
