package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/conformance/pkg/transport"
)

// SessionStats describes one WebRTC session in the /stats response.
type SessionStats struct {
	ID      string                  `json:"id"`
	DTX     bool                    `json:"dtx"`
	State   string                  `json:"state"`
	Streams []transport.StreamStats `json:"streams"`
}

// HandleOffer processes a WebRTC SDP offer and returns an answer.
// The session sends the configured scenario as an Opus track once
// connected; dtx=1 in the query enables Opus DTX.
func (s *Server) HandleOffer(w http.ResponseWriter, r *http.Request) {
	dtx := false
	if v := r.URL.Query().Get("dtx"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid dtx parameter: "+err.Error(), http.StatusBadRequest)
			return
		}
		dtx = b
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid offer: "+err.Error(), http.StatusBadRequest)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer {
		http.Error(w, "expected an SDP offer, got "+offer.Type.String(), http.StatusBadRequest)
		return
	}

	sess, err := s.newSession(dtx)
	if err != nil {
		s.log.Errorw("create session", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.addSession(sess)

	answer, err := sess.negotiate(r.Context(), offer)
	if err != nil {
		sess.log.Errorw("negotiate", "error", err)
		sess.close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(answer); err != nil {
		sess.log.Warnw("write answer", "error", err)
	}
}

// HandleStats reports what every live session has sent.
func (s *Server) HandleStats(w http.ResponseWriter, _ *http.Request) {
	sessions := s.snapshotSessions()
	out := make([]SessionStats, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionStats{
			ID:      sess.id,
			DTX:     sess.dtx,
			State:   sess.pc.ConnectionState().String(),
			Streams: sess.allStats(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Warnw("write stats", "error", err)
	}
}
