package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-mbgate/internal/bridges/mbgate"
)

// ChannelListResponse is the body of /channels.
type ChannelListResponse struct {
	Channels []mbgate.ChannelSnapshot `json:"channels"`
	Count    int                      `json:"count"`
}

// handleListChannels returns every cached channel value.
//
// Query parameters:
//   - unit: only channels of this unit id
//   - category: only channels of this table (discretes, coils, inputs, holdings)
//   - topic: only the channel with this device/control key
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	unitFilter := -1
	if v := q.Get("unit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 255 {
			writeBadRequest(w, "unit must be an integer between 0 and 255")
			return
		}
		unitFilter = n
	}

	category := q.Get("category")
	if category != "" {
		if _, ok := mbgate.ParseCategory(category); !ok {
			writeBadRequest(w, "category must be one of discretes, coils, inputs, holdings")
			return
		}
	}

	topic := q.Get("topic")

	channels := make([]mbgate.ChannelSnapshot, 0)
	for _, ch := range s.channels.Snapshot() {
		if unitFilter >= 0 && int(ch.UnitID) != unitFilter {
			continue
		}
		if category != "" && ch.Category != category {
			continue
		}
		if topic != "" && ch.Topic != topic {
			continue
		}
		channels = append(channels, ch)
	}

	writeJSON(w, http.StatusOK, ChannelListResponse{
		Channels: channels,
		Count:    len(channels),
	})
}
