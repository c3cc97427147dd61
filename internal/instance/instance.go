package instance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/persist"
	"github.com/DoyleJ11/raidhall/internal/repository"
	"github.com/DoyleJ11/raidhall/internal/types"
)

type Msg interface{ isInstanceMsg() }

type Join struct {
	ClientID string
	Outbox   chan types.ServerMessage // where this client wants to receive notifications
}

func (Join) isInstanceMsg() {}

type Leave struct{ ClientID string }

func (Leave) isInstanceMsg() {}

// Do runs one engine command. At is stamped by the instance when it is dequeued.
type Do struct {
	Cmd   engine.Command
	Reply chan Result
}

func (Do) isInstanceMsg() {}

type PurchaseBuff struct {
	PlayerID string
	BuffType string
	Reply    chan Result
}

func (PurchaseBuff) isInstanceMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isInstanceMsg() {}

type Shutdown struct{}

func (Shutdown) isInstanceMsg() {}

// timerFired is posted by vote-expiry and environment timers. Key is the vote
// window id or the phase the tick was scheduled for.
type timerFired struct {
	kind  timerKind
	vote  string
	phase int
}

func (timerFired) isInstanceMsg() {}

type Result struct {
	Version int
	Events  []engine.Event
	State   engine.State
	Balance int // legacy points left after a buff purchase
	Err     error
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

type Deps struct {
	Catalog *catalog.Catalog
	Repo    repository.Repository
	Writer  *persist.Writer
	Log     *zap.Logger
	Now     func() time.Time
	// OnTerminal runs on the instance goroutine once the raid has ended.
	OnTerminal func(id string, s engine.State)
	// OnPlayerLeft runs on the instance goroutine when a player abandons.
	OnPlayerLeft func(id, playerID string)
	// StoreTimeout bounds the synchronous balance read and write of a purchase.
	StoreTimeout time.Duration
}

type Instance struct {
	id      string
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan types.ServerMessage
	deps    Deps
	log     *zap.Logger
	timers  *scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, initial engine.State, deps Deps) *Instance {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 3 * time.Second
	}

	i := &Instance{
		id:      initial.InstanceID,
		inbox:   make(chan Msg, 64),
		state:   initial,
		clients: make(map[string]chan types.ServerMessage),
		deps:    deps,
		log:     deps.Log.Named("instance").With(zap.String("instance", initial.InstanceID)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	i.timers = newScheduler(ctx, i.post, deps.Now)
	i.timers.sync(i.state)

	go i.loop()
	return i
}

func (i *Instance) ID() string { return i.id }

// Inbox exposes the inbox so tests or the ws layer can send messages.
func (i *Instance) Inbox() chan<- Msg { return i.inbox }

// Done is closed once the instance goroutine has exited.
func (i *Instance) Done() <-chan struct{} { return i.done }

func (i *Instance) Close() { i.cancel() }

func (i *Instance) loop() {
	defer close(i.done)
	for {
		select {
		case <-i.ctx.Done():
			i.shutdown()
			return

		case m := <-i.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				i.clients[msg.ClientID] = msg.Outbox
				i.sendTo(msg.ClientID, msg.Outbox, i.update())

			case Leave:
				delete(i.clients, msg.ClientID)

			case Do:
				msg.Reply <- i.apply(msg.Cmd)

			case PurchaseBuff:
				msg.Reply <- i.purchase(msg.PlayerID, msg.BuffType)

			case timerFired:
				i.fire(msg)

			case GetState:
				msg.Reply <- View{Version: i.version, NumClients: len(i.clients), State: i.state}

			case Shutdown:
				i.shutdown()
				return
			}
		}
	}
}

func (i *Instance) apply(cmd engine.Command) Result {
	cmd.At = i.deps.Now()
	events, next, err := engine.Apply(i.state, cmd)
	if err != nil {
		return Result{Version: i.version, State: i.state, Err: err}
	}
	i.commit(events, next)
	return Result{Version: i.version, Events: events, State: i.state}
}

// purchase charges the buyer before the buff lands. The balance write is
// synchronous so a buff is never granted for points that were not taken.
// This holds the raid's loop for the store round-trips; the read, the write
// and any refund share one StoreTimeout, so a stalled store delays the raid
// by at most that much.
func (i *Instance) purchase(playerID, buffType string) Result {
	fail := func(err error) Result { return Result{Version: i.version, State: i.state, Err: err} }

	buff, ok := i.deps.Catalog.Buff(buffType)
	if !ok {
		return fail(apperr.NotFound("buff %s not found", buffType))
	}
	now := i.deps.Now()
	if err := engine.CheckBuff(i.state, playerID, buff, now); err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(i.ctx, i.deps.StoreTimeout)
	defer cancel()
	char, err := i.deps.Repo.Character(ctx, playerID)
	if err != nil {
		return fail(err)
	}
	if char.LegacyPoints < buff.Cost {
		return fail(apperr.Economy("%s costs %d legacy points, %s has %d", buff.Name, buff.Cost, playerID, char.LegacyPoints))
	}
	balance := char.LegacyPoints - buff.Cost
	if err := i.deps.Repo.SaveLegacyPoints(ctx, playerID, balance); err != nil {
		return fail(err)
	}

	events, next, err := engine.Apply(i.state, engine.Command{Type: engine.CmdApplyBuff, PlayerID: playerID, Buff: buff, At: now})
	if err != nil {
		if rerr := i.deps.Repo.SaveLegacyPoints(ctx, playerID, char.LegacyPoints); rerr != nil {
			i.log.Error("refund failed", zap.String("player", playerID), zap.Int("points", buff.Cost), zap.Error(rerr))
		}
		return fail(err)
	}
	i.commit(events, next)
	i.log.Info("buff purchased", zap.String("player", playerID), zap.String("buff", buffType), zap.Int("balance", balance))
	return Result{Version: i.version, Events: events, State: i.state, Balance: balance}
}

// fire turns a timer into a command unless the state has moved on since the
// timer was armed.
func (i *Instance) fire(t timerFired) {
	i.timers.fired(t)
	if i.state.Status.Terminal() {
		return
	}
	var cmd engine.Command
	switch t.kind {
	case timerVote:
		if v := i.state.Vote; v == nil || v.Resolved || v.ID != t.vote {
			return
		}
		cmd = engine.Command{Type: engine.CmdResolveVote, WindowID: t.vote}
	case timerEnvironment:
		if i.state.Boss.Phase != t.phase {
			i.timers.sync(i.state)
			return
		}
		cmd = engine.Command{Type: engine.CmdEnvironmentTick, Phase: t.phase}
	}
	if res := i.apply(cmd); res.Err != nil {
		i.log.Debug("timer command rejected", zap.String("cmd", string(cmd.Type)), zap.Error(res.Err))
	}
}

func (i *Instance) commit(events []engine.Event, next engine.State) {
	wasTerminal := i.state.Status.Terminal()
	i.state = next
	i.version++
	for _, e := range events {
		i.broadcast(types.ServerMessage{Type: string(e.Type), InstanceID: i.id, Version: i.version, Event: &e})
		if e.Type == engine.EvtPlayerLeft && i.deps.OnPlayerLeft != nil {
			i.deps.OnPlayerLeft(i.id, e.PlayerID)
		}
	}
	i.broadcast(i.update())
	i.timers.sync(i.state)

	if !wasTerminal && i.state.Status.Terminal() {
		i.finish()
	}
}

// finish queues the end-of-raid writes and tells the owner.
func (i *Instance) finish() {
	s := i.state
	i.log.Info("raid ended",
		zap.String("raid", s.RaidID),
		zap.String("status", string(s.Status)),
		zap.Duration("elapsed", s.Stats.Elapsed()),
		zap.Int("actions", s.Stats.Actions))

	if i.deps.Writer != nil {
		outcome, entries, reward, winners := Records(s)
		jobs := []persist.Job{persist.RecordOutcome(outcome)}
		if s.Status == engine.StatusCompleted {
			jobs = append(jobs, persist.RecordLeaderboard(entries), persist.GrantRewards(winners, reward))
		}
		for _, job := range jobs {
			if err := i.deps.Writer.Enqueue(job); err != nil {
				i.log.Error("end-of-raid write dropped", zap.String("job", job.Name), zap.Error(err))
			}
		}
	}
	if i.deps.OnTerminal != nil {
		i.deps.OnTerminal(i.id, s)
	}
}

func (i *Instance) update() types.ServerMessage {
	s := i.state
	return types.ServerMessage{Type: types.MsgUpdate, InstanceID: i.id, Version: i.version, State: &s}
}

func (i *Instance) shutdown() {
	i.timers.stop()
	for id, ch := range i.clients {
		close(ch) // Tell client no more notifications
		delete(i.clients, id)
	}
	i.cancel()
}

func (i *Instance) broadcast(msg types.ServerMessage) {
	for id, ch := range i.clients {
		i.sendTo(id, ch, msg)
	}
}

func (i *Instance) sendTo(id string, ch chan types.ServerMessage, msg types.ServerMessage) {
	select {
	case ch <- msg:
	default:
		// Client is slow/full - drop them.
		close(ch)
		delete(i.clients, id)
		i.log.Debug("dropped slow client", zap.String("client", id))
	}
}

// post is how timers reach the loop. Once the instance is gone it is a no-op.
func (i *Instance) post(m Msg) {
	select {
	case i.inbox <- m:
	case <-i.ctx.Done():
	}
}
