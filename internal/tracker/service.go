// Package tracker is the TV show tracker served by trackerd: a list of tracked shows that
// clients add to, remove from and read over RPC.
package tracker

import (
	"envelope-rpc/outcome"
	"envelope-rpc/server"
)

// ServiceName is the RPC service name, used in "Tracker.Add" and for discovery.
const ServiceName = "Tracker"

type AddArgs struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type IDArgs struct {
	ID string `json:"id"`
}

type ListArgs struct{}

// Tracker exposes a Store over RPC.
type Tracker struct {
	store *Store
}

func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store}
}

// Add tracks a new show and returns it.
func (t *Tracker) Add(args *AddArgs, reply *TVShow) error {
	show, err := t.store.Add(TVShow{ID: args.ID, Name: args.Name})
	if err != nil {
		return err
	}
	*reply = show
	return nil
}

// Remove stops tracking a show. The reply value is null.
func (t *Tracker) Remove(args *IDArgs) error {
	return t.store.Remove(args.ID)
}

// List returns every tracked show.
func (t *Tracker) List(args *ListArgs, reply *[]TVShow) error {
	*reply = t.store.List()
	return nil
}

// Failures is the set of errors caused by the caller; they reach clients as request errors.
func Failures() outcome.FailureSet {
	return outcome.RecognizeErrors(ErrInvalidID, ErrAlreadyTracked, ErrNotTracked)
}

// Register registers a Tracker backed by store on svr.
func Register(svr *server.Server, store *Store) error {
	return svr.RegisterName(ServiceName, NewTracker(store), Failures())
}
