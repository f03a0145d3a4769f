package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/lyrascribe/lyrascribe/internal/bus"
	"github.com/lyrascribe/lyrascribe/internal/joblog"
	"github.com/lyrascribe/lyrascribe/internal/queue"
)

// firstFrameTimeout bounds how long a fresh session may wait before sending
// its job descriptor.
const firstFrameTimeout = 30 * time.Second

// wsFrame is the wire shape pushed to websocket clients.
type wsFrame struct {
	JobID      string      `json:"job_id"`
	ClientID   string      `json:"client_id,omitempty"`
	StatusCode string      `json:"status_code"`
	StatusText string      `json:"status_text"`
	Result     *bus.Result `json:"result,omitempty"`
}

// handleWS serves WS /ws/{job_id}: the first client frame carries the job
// descriptor, then progress events for the job are relayed in order until a
// terminal frame closes the session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	s.metrics.ActiveSessions.Add(r.Context(), 1)
	defer s.metrics.ActiveSessions.Add(r.Context(), -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	desc, err := s.readDescriptor(ctx, conn, jobID)
	if err != nil {
		s.log.Warn("websocket session rejected", "job_id", jobID, "error", err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	// Subscribe before enqueueing so no event can slip past the session.
	events, unsubscribe := s.bus.Subscribe(jobID)
	defer unsubscribe()

	if err := s.startJob(ctx, desc); err != nil {
		s.log.Error("starting websocket job failed", "job_id", jobID, "error", err)
		conn.Close(websocket.StatusInternalError, "starting job failed")
		return
	}

	// A terminal outcome may already be in the log when the session attaches
	// to a previously submitted job.
	if done, err := s.replayTerminal(ctx, conn, jobID, desc.ClientID); err != nil || done {
		return
	}

	// Reads only detect disconnects; clients send nothing after the
	// descriptor.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeFrame(ctx, conn, frameFromEvent(ev)); err != nil {
				s.log.Debug("websocket write failed", "job_id", jobID, "error", err)
				return
			}
			if ev.StageCode.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
		}
	}
}

// readDescriptor reads and validates the session's first frame.
func (s *Server) readDescriptor(ctx context.Context, conn *websocket.Conn, jobID string) (*queue.Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, firstFrameTimeout)
	defer cancel()

	_, payload, err := conn.Read(ctx)
	if err != nil {
		return nil, errors.New("expected a job descriptor frame")
	}
	var desc queue.Descriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return nil, errors.New("malformed job descriptor")
	}
	if desc.JobID == "" {
		desc.JobID = jobID
	}
	if desc.JobID != jobID {
		return nil, errors.New("descriptor job id does not match path")
	}
	return &desc, nil
}

// startJob admits and enqueues the descriptor unless the job was already
// submitted through the HTTP intake, in which case the session only attaches.
func (s *Server) startJob(ctx context.Context, desc *queue.Descriptor) error {
	row, err := s.store.Get(ctx, desc.JobID)
	if err != nil {
		return err
	}
	if row != nil {
		return nil
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	if !s.book.Known(desc.Model) {
		return errors.New("unknown model " + desc.Model)
	}
	if err := s.store.Insert(ctx, &joblog.Row{
		JobID:            desc.JobID,
		ClientID:         desc.ClientID,
		Status:           joblog.StatusQueued,
		OriginalFilename: desc.OriginalFilename,
		Provider:         desc.Provider,
		Model:            desc.Model,
		SourceLanguage:   desc.SourceLang,
	}); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, desc); err != nil {
		// Back out the admission so the job id is not burned by a broker
		// hiccup.
		if derr := s.store.Delete(ctx, desc.JobID); derr != nil {
			s.log.Error("withdrawing job row failed", "job_id", desc.JobID, "error", derr)
		}
		return err
	}
	return nil
}

// replayTerminal pushes a synthetic terminal frame when the job already
// finished, and reports whether the session is done.
func (s *Server) replayTerminal(ctx context.Context, conn *websocket.Conn, jobID, clientID string) (bool, error) {
	row, err := s.store.Get(ctx, jobID)
	if err != nil || row == nil || !row.Status.Terminal() {
		return false, err
	}

	frame := wsFrame{JobID: jobID, ClientID: clientID}
	if row.Status == joblog.StatusCompleted {
		frame.StatusCode = string(bus.StageCompleted)
		frame.StatusText = "transcription completed"
		if len(row.ResultJSON) > 0 {
			var result bus.Result
			if err := json.Unmarshal(row.ResultJSON, &result); err == nil {
				frame.Result = &result
			}
		}
	} else {
		frame.StatusCode = string(bus.StageFailed)
		frame.StatusText = row.ErrorMessage
	}

	if err := writeFrame(ctx, conn, frame); err != nil {
		return true, err
	}
	conn.Close(websocket.StatusNormalClosure, "job finished")
	return true, nil
}

func frameFromEvent(ev bus.Event) wsFrame {
	return wsFrame{
		JobID:      ev.JobID,
		ClientID:   ev.ClientID,
		StatusCode: string(ev.StageCode),
		StatusText: ev.StageText,
		Result:     ev.Result,
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame wsFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
