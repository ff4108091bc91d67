package entity

import (
	"encoding/json"
	"time"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/events"
)

// PingResponder answers {"type":"ping"} with a pong stamped by now. Every
// other frame is left for the actor.
func PingResponder(now func() time.Time) actor.AutoResponder {
	return func(data []byte) ([]byte, bool) {
		_, err := events.ParseClientMessage(data)
		if err != nil {
			return nil, false
		}

		pong, err := json.Marshal(events.NewPong(now()))
		if err != nil {
			return nil, false
		}

		return pong, true
	}
}
