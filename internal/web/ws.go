package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/androsja/Se-alyze/internal/landmark"
	"github.com/androsja/Se-alyze/internal/observe"
)

const (
	// maxFrameBytes bounds one landmark message: two hands of 21 points
	// serialise to well under 8 KiB.
	maxFrameBytes = 32 << 10

	// maxInvalidFrames closes a tracker connection after this many
	// consecutive frames fail to decode or validate.
	maxInvalidFrames = 30

	stateWriteTimeout = 5 * time.Second
)

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
}

// handleLandmarks reads frames from one tracker into the queue until the
// tracker disconnects or the queue closes.
func (s *Server) handleLandmarks(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		observe.Logger(r.Context()).Warn("landmark upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	ctx := r.Context()
	log := observe.Logger(ctx).With("remote", r.RemoteAddr)
	s.metrics.ActiveTrackers.Add(ctx, 1)
	defer s.metrics.ActiveTrackers.Add(context.WithoutCancel(ctx), -1)
	log.Info("tracker connected")

	invalid := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logReadEnd(ctx, log, err)
			return
		}
		f, err := landmark.Decode(data, s.now())
		if err != nil {
			s.metrics.FramesInvalid.Add(ctx, 1)
			invalid++
			log.Debug("invalid landmark frame", "err", err, "consecutive", invalid)
			if invalid >= maxInvalidFrames {
				conn.Close(websocket.StatusUnsupportedData, "too many invalid frames")
				return
			}
			continue
		}
		invalid = 0

		s.metrics.FramesReceived.Add(ctx, 1)
		dropped, ok := s.cfg.Queue.Offer(f)
		if dropped > 0 {
			s.metrics.FramesDropped.Add(ctx, int64(dropped))
		}
		if !ok {
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
	}
}

func logReadEnd(ctx context.Context, log *slog.Logger, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		log.Info("tracker disconnected")
		return
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		log.Info("tracker disconnected", "reason", "server shutdown")
		return
	}
	log.Warn("tracker read failed", "err", err)
}

// handleState streams snapshots to one observer. Incoming messages are
// discarded; the stream ends when the client goes away or the hub closes.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		observe.Logger(r.Context()).Warn("state upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	s.metrics.ActiveObservers.Add(ctx, 1)
	defer s.metrics.ActiveObservers.Add(context.WithoutCancel(ctx), -1)

	snaps, unsubscribe := s.cfg.Hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, stateWriteTimeout)
			err := wsjson.Write(wctx, conn, snap)
			cancel()
			if err != nil {
				observe.Logger(ctx).Debug("state write failed", "err", err)
				return
			}
		}
	}
}
