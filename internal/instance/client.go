package instance

import (
	"context"
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/types"
	"github.com/DoyleJ11/raidhall/internal/vote"
)

// The methods below are the request/reply side of the actor. Each one is
// serialized through the inbox with every other mutation of the instance.

func (i *Instance) Do(ctx context.Context, cmd engine.Command) (Result, error) {
	reply := make(chan Result, 1)
	if err := i.send(ctx, Do{Cmd: cmd, Reply: reply}); err != nil {
		return Result{}, err
	}
	res, err := await(ctx, i, reply)
	if err != nil {
		return Result{}, err
	}
	return res, res.Err
}

func (i *Instance) PerformActions(ctx context.Context, playerID string, actions ...engine.Action) (Result, error) {
	return i.Do(ctx, engine.Command{Type: engine.CmdPerformAction, PlayerID: playerID, Actions: actions})
}

func (i *Instance) Abandon(ctx context.Context, playerID string) (Result, error) {
	return i.Do(ctx, engine.Command{Type: engine.CmdAbandon, PlayerID: playerID})
}

func (i *Instance) OpenVote(ctx context.Context, options []string, d time.Duration) (Result, error) {
	return i.Do(ctx, engine.Command{Type: engine.CmdOpenVote, Options: options, Duration: d})
}

func (i *Instance) SubmitVote(ctx context.Context, b vote.Ballot) (Result, error) {
	return i.Do(ctx, engine.Command{Type: engine.CmdSubmitVote, Ballot: b})
}

// ResolveVote closes the open window early. An empty windowID means whichever
// window is open.
func (i *Instance) ResolveVote(ctx context.Context, windowID string) (Result, error) {
	return i.Do(ctx, engine.Command{Type: engine.CmdResolveVote, WindowID: windowID})
}

func (i *Instance) PurchaseBuff(ctx context.Context, playerID, buffType string) (Result, error) {
	reply := make(chan Result, 1)
	if err := i.send(ctx, PurchaseBuff{PlayerID: playerID, BuffType: buffType, Reply: reply}); err != nil {
		return Result{}, err
	}
	res, err := await(ctx, i, reply)
	if err != nil {
		return Result{}, err
	}
	return res, res.Err
}

func (i *Instance) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := i.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, i, reply)
}

func (i *Instance) Subscribe(ctx context.Context, clientID string, outbox chan types.ServerMessage) error {
	return i.send(ctx, Join{ClientID: clientID, Outbox: outbox})
}

func (i *Instance) Unsubscribe(clientID string) {
	select {
	case i.inbox <- Leave{ClientID: clientID}:
	case <-i.done:
	}
}

func (i *Instance) send(ctx context.Context, m Msg) error {
	select {
	case i.inbox <- m:
		return nil
	case <-i.done:
		return apperr.NotFound("instance %s is closed", i.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, i *Instance, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-i.done:
		return zero, apperr.NotFound("instance %s is closed", i.id)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
