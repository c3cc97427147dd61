package vote

import (
	"slices"
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
)

const (
	SubscriberWeight = 2
	ViewerWeight     = 1
)

// Weight is the current weighting policy: subscribers count double.
func Weight(subscriber bool) int {
	if subscriber {
		return SubscriberWeight
	}
	return ViewerWeight
}

type Ballot struct {
	Viewer string `json:"viewer"`
	Option string `json:"option"`
	Weight int    `json:"weight"`
}

// Tally is an option's running total and the sequence number at which it last
// changed, i.e. when it reached its current total.
type Tally struct {
	Weight    int `json:"weight"`
	ReachedAt int `json:"reachedAt"`
}

type Window struct {
	ID        string            `json:"id"`
	Options   []string          `json:"options"`
	Ballots   map[string]Ballot `json:"ballots"`
	Tallies   map[string]Tally  `json:"tallies"`
	OpenedAt  time.Time         `json:"openedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Resolved  bool              `json:"resolved"`
	Seq       int               `json:"seq"`
}

type Result struct {
	WindowID string         `json:"windowId"`
	Winner   string         `json:"winner,omitempty"`
	Totals   map[string]int `json:"totals"`
	Ballots  int            `json:"ballots"`
}

func Open(id string, options []string, now time.Time, d time.Duration) (*Window, error) {
	if len(options) < 2 {
		return nil, apperr.Validation("a vote needs at least two options")
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if o == "" || seen[o] {
			return nil, apperr.Validation("vote options must be unique and non-empty")
		}
		seen[o] = true
	}
	if d <= 0 {
		return nil, apperr.Validation("vote duration must be positive")
	}
	w := &Window{
		ID:        id,
		Options:   slices.Clone(options),
		Ballots:   map[string]Ballot{},
		Tallies:   make(map[string]Tally, len(options)),
		OpenedAt:  now,
		ExpiresAt: now.Add(d),
	}
	for _, o := range options {
		w.Tallies[o] = Tally{}
	}
	return w, nil
}

func (w *Window) Open(now time.Time) bool {
	return !w.Resolved && now.Before(w.ExpiresAt)
}

func (w *Window) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// Check validates b against the window without recording it.
func (w *Window) Check(b Ballot, now time.Time) error {
	if !w.Open(now) {
		return apperr.StateConflict("vote window %s is closed", w.ID)
	}
	if b.Viewer == "" {
		return apperr.Validation("viewer is required")
	}
	if b.Weight < 1 {
		return apperr.Validation("vote weight must be at least 1")
	}
	if _, ok := w.Tallies[b.Option]; !ok {
		return apperr.Validation("%q is not an option in this vote", b.Option)
	}
	return nil
}

// Submit records b, replacing any earlier ballot from the same viewer.
func (w *Window) Submit(b Ballot, now time.Time) error {
	if err := w.Check(b, now); err != nil {
		return err
	}
	prior, ok := w.Ballots[b.Viewer]
	if ok && prior == b {
		return nil // a resend must not move ReachedAt
	}
	if ok {
		w.bump(prior.Option, -prior.Weight)
	}
	w.Ballots[b.Viewer] = b
	w.bump(b.Option, b.Weight)
	return nil
}

func (w *Window) bump(option string, delta int) {
	w.Seq++
	t := w.Tallies[option]
	t.Weight += delta
	t.ReachedAt = w.Seq
	w.Tallies[option] = t
}

// Result tallies the window. The highest total wins; a tie goes to the option
// that reached its total first. No ballots means no winner.
func (w *Window) Result() Result {
	res := Result{WindowID: w.ID, Totals: make(map[string]int, len(w.Tallies)), Ballots: len(w.Ballots)}
	best := Tally{}
	for _, o := range w.Options {
		t := w.Tallies[o]
		res.Totals[o] = t.Weight
		if t.Weight <= 0 {
			continue
		}
		if res.Winner == "" || t.Weight > best.Weight || (t.Weight == best.Weight && t.ReachedAt < best.ReachedAt) {
			res.Winner = o
			best = t
		}
	}
	return res
}

func (w *Window) Clone() *Window {
	if w == nil {
		return nil
	}
	out := *w
	out.Options = slices.Clone(w.Options)
	out.Ballots = make(map[string]Ballot, len(w.Ballots))
	for k, v := range w.Ballots {
		out.Ballots[k] = v
	}
	out.Tallies = make(map[string]Tally, len(w.Tallies))
	for k, v := range w.Tallies {
		out.Tallies[k] = v
	}
	return &out
}
