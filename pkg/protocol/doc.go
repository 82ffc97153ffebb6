// Package protocol holds the Lavalink v4 wire model shared by the REST client,
// the node socket and the player.
//
// Types mirror the JSON documents sent by the node. Nullable fields are pointers,
// free-form plugin data is kept as raw JSON or generic maps so it round-trips
// without loss.
package protocol
