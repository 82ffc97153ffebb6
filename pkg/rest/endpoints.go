package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/latoulicious/tarulink/pkg/protocol"
)

// UpdatePlayerParams are the query flags of a player update
type UpdatePlayerParams struct {
	// NoReplace keeps the current track if one is already playing
	NoReplace bool
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	res, err := c.Do(ctx, http.MethodGet, path, &RequestOptions{Query: query})
	if err != nil {
		return err
	}
	return res.Decode(out)
}

func (c *Client) resolveSession(sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	if sid := c.SessionID(); sid != "" {
		return sid, nil
	}
	return "", ErrNoSession
}

// LoadTracks resolves an identifier, search query or URL
func (c *Client) LoadTracks(ctx context.Context, identifier string) (*protocol.LoadResult, error) {
	var result protocol.LoadResult
	err := c.getJSON(ctx, routeLoadTracks, url.Values{"identifier": {identifier}}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DecodeTrack(ctx context.Context, encoded string) (*protocol.Track, error) {
	var track protocol.Track
	err := c.getJSON(ctx, routeDecodeTrack, url.Values{"encodedTrack": {encoded}}, &track)
	if err != nil {
		return nil, err
	}
	return &track, nil
}

func (c *Client) DecodeTracks(ctx context.Context, encoded []string) ([]protocol.Track, error) {
	res, err := c.Do(ctx, http.MethodPost, routeDecodeTracks, &RequestOptions{Body: encoded})
	if err != nil {
		return nil, err
	}
	var tracks []protocol.Track
	return tracks, res.Decode(&tracks)
}

// FetchPlayers lists the players of a session, the current one when sessionID is empty
func (c *Client) FetchPlayers(ctx context.Context, sessionID string) ([]protocol.Player, error) {
	sid, err := c.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	var players []protocol.Player
	return players, c.getJSON(ctx, PlayersRoute(sid, ""), nil, &players)
}

func (c *Client) FetchPlayer(ctx context.Context, guildID string) (*protocol.Player, error) {
	sid, err := c.resolveSession("")
	if err != nil {
		return nil, err
	}
	var player protocol.Player
	if err := c.getJSON(ctx, PlayersRoute(sid, guildID), nil, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

func (c *Client) UpdatePlayer(ctx context.Context, guildID string, update *protocol.PlayerUpdate, params *UpdatePlayerParams) (*protocol.Player, error) {
	sid, err := c.resolveSession("")
	if err != nil {
		return nil, err
	}
	var query url.Values
	if params != nil && params.NoReplace {
		query = url.Values{"noReplace": {"true"}}
	}
	res, err := c.Do(ctx, http.MethodPatch, PlayersRoute(sid, guildID), &RequestOptions{Body: update, Query: query})
	if err != nil {
		return nil, err
	}
	var player protocol.Player
	if err := res.Decode(&player); err != nil {
		return nil, err
	}
	return &player, nil
}

// DestroyPlayer reports whether the node answered with 204
func (c *Client) DestroyPlayer(ctx context.Context, guildID string) (bool, error) {
	sid, err := c.resolveSession("")
	if err != nil {
		return false, err
	}
	res, err := c.Do(ctx, http.MethodDelete, PlayersRoute(sid, guildID), nil)
	if err != nil {
		return false, err
	}
	return res.Status == http.StatusNoContent, nil
}

func (c *Client) UpdateSession(ctx context.Context, update protocol.SessionUpdate) (*protocol.Session, error) {
	sid, err := c.resolveSession("")
	if err != nil {
		return nil, err
	}
	res, err := c.Do(ctx, http.MethodPatch, SessionRoute(sid), &RequestOptions{Body: update})
	if err != nil {
		return nil, err
	}
	var session protocol.Session
	if err := res.Decode(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) FetchInfo(ctx context.Context) (*protocol.Info, error) {
	var info protocol.Info
	if err := c.getJSON(ctx, routeInfo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) FetchStats(ctx context.Context) (*protocol.Stats, error) {
	var stats protocol.Stats
	if err := c.getJSON(ctx, routeStats, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// FetchVersion returns the plain text version served outside the version prefix
func (c *Client) FetchVersion(ctx context.Context) (string, error) {
	res, err := c.Do(ctx, http.MethodGet, routeVersion, &RequestOptions{Unversioned: true})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Body)), nil
}

// FetchRoutePlannerStatus returns nil when the node has no route planner
func (c *Client) FetchRoutePlannerStatus(ctx context.Context) (*protocol.RoutePlannerStatus, error) {
	res, err := c.Do(ctx, http.MethodGet, routePlanner, nil)
	if err != nil {
		return nil, err
	}
	if res.Status == http.StatusNoContent {
		return nil, nil
	}
	var status protocol.RoutePlannerStatus
	if err := res.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) UnmarkFailedAddress(ctx context.Context, address string) (bool, error) {
	res, err := c.Do(ctx, http.MethodPost, routeFreeAddress, &RequestOptions{Body: map[string]string{"address": address}})
	if err != nil {
		return false, err
	}
	return res.Status == http.StatusNoContent, nil
}

func (c *Client) UnmarkAllFailedAddresses(ctx context.Context) (bool, error) {
	res, err := c.Do(ctx, http.MethodPost, routeFreeAll, nil)
	if err != nil {
		return false, err
	}
	return res.Status == http.StatusNoContent, nil
}

// Addr returns host:port of the origin
func (c *Client) Addr() string {
	u, err := url.Parse(c.origin)
	if err != nil {
		return c.origin
	}
	if u.Port() != "" {
		return u.Host
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	return u.Hostname() + ":" + strconv.Itoa(port)
}
