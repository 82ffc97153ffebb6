package rest

import "net/url"

const (
	routeWebsocket    = "/websocket"
	routeLoadTracks   = "/loadtracks"
	routeDecodeTrack  = "/decodetrack"
	routeDecodeTracks = "/decodetracks"
	routeInfo         = "/info"
	routeStats        = "/stats"
	routeVersion      = "/version"
	routePlanner      = "/routeplanner/status"
	routeFreeAddress  = "/routeplanner/free/address"
	routeFreeAll      = "/routeplanner/free/all"
)

// PlayersRoute returns the players route of a session, or of one guild when guildID is set
func PlayersRoute(sessionID, guildID string) string {
	route := "/sessions/" + url.PathEscape(sessionID) + "/players"
	if guildID != "" {
		route += "/" + url.PathEscape(guildID)
	}
	return route
}

// SessionRoute returns the route of a session
func SessionRoute(sessionID string) string {
	return "/sessions/" + url.PathEscape(sessionID)
}
