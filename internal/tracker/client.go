package tracker

import (
	"context"

	"envelope-rpc/client"
)

// Client is the typed client of the Tracker service. Its errors are those of client.Call:
// *outcome.RequestError, *outcome.ServerError or *client.ConnectionError.
type Client struct {
	rpc *client.Client
}

func NewClient(rpc *client.Client) *Client {
	return &Client{rpc: rpc}
}

// AddTVShow starts tracking the show with the given ID and returns it as stored.
func (c *Client) AddTVShow(ctx context.Context, id, name string) (TVShow, error) {
	var show TVShow
	err := c.rpc.Call(ctx, ServiceName+".Add", &AddArgs{ID: id, Name: name}, &show)
	return show, err
}

// RemoveTVShow stops tracking the show with the given ID.
func (c *Client) RemoveTVShow(ctx context.Context, id string) error {
	return c.rpc.Call(ctx, ServiceName+".Remove", &IDArgs{ID: id}, nil)
}

// TVShows returns the tracked shows ordered by ID.
func (c *Client) TVShows(ctx context.Context) ([]TVShow, error) {
	var shows []TVShow
	if err := c.rpc.Call(ctx, ServiceName+".List", &ListArgs{}, &shows); err != nil {
		return nil, err
	}
	return shows, nil
}
