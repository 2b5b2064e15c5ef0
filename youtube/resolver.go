package youtube

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/youtube/v3"

	"ytcollect/channelid"
	"ytcollect/internal/retry"
	"ytcollect/quota"
)

// Resolver turns handles, legacy usernames and custom URLs into canonical
// channel IDs. Unlike the providers it charges the tracker itself.
type Resolver struct {
	client *Client
	quota  *quota.Tracker
}

// NewResolver returns a Resolver charging t. A nil t gets a private tracker.
func NewResolver(c *Client, t *quota.Tracker) *Resolver {
	if t == nil {
		t = quota.NewTracker(quota.DefaultLimit)
	}
	return &Resolver{client: c, quota: t}
}

// Resolve classifies input and, when it is not already a channel ID, looks
// it up. Handles try channels.list forHandle first and usernames try
// forUsername; everything else, and anything those miss, falls back to a
// search.list lookup (100 units).
func (r *Resolver) Resolve(ctx context.Context, input string) (channelid.Resolution, error) {
	res := channelid.Resolve(input)
	switch res.Kind {
	case channelid.Invalid:
		return res, res.Err()
	case channelid.Resolved:
		return res, nil
	}

	var (
		id  string
		err error
	)
	switch res.Form {
	case channelid.FormHandle:
		id, err = r.lookup(ctx, func(call *youtube.ChannelsListCall) *youtube.ChannelsListCall {
			return call.ForHandle(res.Name)
		})
	case channelid.FormUserURL:
		id, err = r.lookup(ctx, func(call *youtube.ChannelsListCall) *youtube.ChannelsListCall {
			return call.ForUsername(res.Name)
		})
	default:
		err = ErrHandleNotFound
	}
	if err == nil && id != "" {
		return resolved(res, id), nil
	}
	if err != nil && !isNotFound(err) {
		return res, err
	}

	id, err = r.search(ctx, res.Query())
	if err != nil {
		return res, err
	}
	return resolved(res, id), nil
}

func resolved(res channelid.Resolution, id string) channelid.Resolution {
	res.Kind = channelid.Resolved
	res.ChannelID = id
	return res
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrHandleNotFound) || errors.Is(err, ErrChannelNotFound)
}

func (r *Resolver) lookup(ctx context.Context, filter func(*youtube.ChannelsListCall) *youtube.ChannelsListCall) (string, error) {
	var id string
	err := r.client.do(ctx, quota.OpChannelsList, func(ctx context.Context) error {
		r.quota.Track(quota.OpChannelsList)
		resp, err := filter(r.client.service.Channels.List([]string{"id"})).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return retry.Permanent(ErrHandleNotFound)
		}
		id = resp.Items[0].Id
		return nil
	})
	return id, err
}

func (r *Resolver) search(ctx context.Context, q string) (string, error) {
	if cost := quota.Cost(quota.OpSearchList); r.quota.Remaining() < cost {
		return "", fmt.Errorf("%w: search needs %d units, %d remaining", quota.ErrQuotaExceeded, cost, r.quota.Remaining())
	}

	var id string
	err := r.client.do(ctx, quota.OpSearchList, func(ctx context.Context) error {
		r.quota.Track(quota.OpSearchList)
		resp, err := r.client.service.Search.List([]string{"id"}).
			Q(q).
			Type("channel").
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		for _, item := range resp.Items {
			if item.Id != nil && item.Id.ChannelId != "" {
				id = item.Id.ChannelId
				return nil
			}
		}
		return retry.Permanent(fmt.Errorf("%w: %s", ErrHandleNotFound, q))
	})
	return id, err
}
