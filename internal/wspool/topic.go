package wspool

import "strconv"

// Topic is a named subscription and the handler invoked for each message
// delivered under it, mirroring original_source/twitch.py's WebsocketTopic:
// a name plus a process callback, not a typed struct per topic kind.
type Topic struct {
	Name      string
	Handle    func(payload []byte)
	NeedsAuth bool
}

// UserDropsTopic and UserCommunityPointsTopic are the two topics registered
// at pool start, scoped to the authenticated user.
func UserDropsTopic(userID int, handle func(payload []byte)) Topic {
	return Topic{Name: "user-drop-events-v1." + strconv.Itoa(userID), Handle: handle}
}

func UserCommunityPointsTopic(userID int, handle func(payload []byte)) Topic {
	return Topic{Name: "community-points-user-v1." + strconv.Itoa(userID), Handle: handle, NeedsAuth: true}
}

// ChannelStreamStateTopic is added when a channel joins the candidate set
// and removed when it leaves.
func ChannelStreamStateTopic(channelID int, handle func(payload []byte)) Topic {
	return Topic{Name: "video-playback-by-id." + strconv.Itoa(channelID), Handle: handle}
}
