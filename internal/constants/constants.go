// Package constants holds the fixed platform identity values every
// component needs to look like a real Twitch client, mirroring the
// teacher's own constants package.
package constants

const (
	// ClientID is the public web client id every gql/spade/auth call
	// authenticates as.
	ClientID = "ue6666qo983tsx6so1t0vnawi233wa"

	// WebsocketURL is the PubSub edge every topic subscription dials.
	WebsocketURL = "wss://pubsub-edge.twitch.tv/v1"

	// UserAgent is sent on every HTTP request this module issues.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// AndroidTVUserAgent is used only for the device-code login flow, which
	// Twitch only serves to its Android TV client id.
	AndroidTVUserAgent = "Mozilla/5.0 (Linux; Android 9; Android TV) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)
