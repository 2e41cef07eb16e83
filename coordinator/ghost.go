package coordinator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/sonet-social/messaging/keyexchange"
)

// Ghost display identities give anonymous messages a stable per-conversation
// face. The handle is an HMAC of the sender's private identity key and the
// conversation ID: deterministic, so the same ghost reappears across replies
// in one conversation, but uncomputable by anyone who only knows the sender's
// public key. The real user ID never leaves the abuse guard's records.

const ghostLabel = "sonet-ghost-v1"

var ghostAdjectives = []string{
	"quiet", "violet", "amber", "misty", "silver", "mellow", "dusky", "pale",
	"brisk", "drifting", "hollow", "wandering", "muted", "veiled", "faded", "still",
}

var ghostNouns = []string{
	"heron", "lantern", "willow", "ember", "harbor", "thistle", "comet", "fjord",
	"moth", "prism", "reed", "signal", "tide", "vesper", "wren", "shade",
}

// ghostAvatarCount is the number of stock ghost avatars the clients bundle.
const ghostAvatarCount = 16

// GhostIdentity derives the pseudonymous handle and avatar a user presents in
// one conversation's anonymous messages.
func GhostIdentity(id *keyexchange.Identity, conversationID string) (handle, avatar string) {
	mac := hmac.New(sha256.New, id.KeyPair.Private[:])
	mac.Write([]byte(ghostLabel))
	mac.Write([]byte(conversationID))
	sum := mac.Sum(nil)

	adjective := ghostAdjectives[int(binary.BigEndian.Uint16(sum[0:2]))%len(ghostAdjectives)]
	noun := ghostNouns[int(binary.BigEndian.Uint16(sum[2:4]))%len(ghostNouns)]
	number := int(binary.BigEndian.Uint16(sum[4:6])) % 100

	handle = fmt.Sprintf("%s-%s-%02d", adjective, noun, number)
	avatar = fmt.Sprintf("ghost-%02d", int(sum[6])%ghostAvatarCount)
	return handle, avatar
}
