package bridge

import (
	"github.com/palpo-im/zulipbridge/internal/matrixingest"
	"github.com/palpo-im/zulipbridge/internal/zulipingest"
)

// MatrixHandlers returns the Side-M ingest handler set wired onto this
// bridge's M->Z direction.
func (b *Bridge) MatrixHandlers() matrixingest.Handlers {
	return matrixingest.Handlers{
		OnMessage:  b.HandleMatrixMessage,
		OnReaction: b.HandleMatrixReaction,
		OnRedact:   b.HandleMatrixRedaction,
		OnName:     b.HandleMatrixRoomMeta,
		OnTopic:    b.HandleMatrixRoomMeta,
		OnAvatar:   b.HandleMatrixRoomMeta,
		// OnMember is left nil: membership changes in a bridged room carry
		// no Zulip-side analogue the bridge needs to act on.
	}
}

// ZulipHandlers returns the Side-Z ingest handler set wired onto this
// bridge's Z->M direction.
func (b *Bridge) ZulipHandlers() zulipingest.Handlers {
	return zulipingest.Handlers{
		OnMessage:       b.HandleZulipMessage,
		OnUpdateMessage: b.HandleZulipUpdateMessage,
		OnDeleteMessage: b.HandleZulipDeleteMessage,
		OnReaction:      b.HandleZulipReaction,
		OnRealmUser:     b.HandleZulipRealmUser,
		OnSubscription:  b.HandleZulipSubscription,
	}
}
