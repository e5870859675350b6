package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/dedupmq/internal/domain/model"
)

// maxBodyBytes bounds a /decide request body.
const maxBodyBytes = 4 << 20

var errTrailingData = errors.New("unexpected data after the JSON object")

// decideRequest carries one published message. Payload is base64 in JSON;
// PayloadText is a convenience for textual payloads.
type decideRequest struct {
	Topic       string  `json:"topic"`
	Payload     []byte  `json:"payload"`
	PayloadText *string `json:"payload_text"`
}

func (d decideRequest) message() (model.Message, error) {
	if d.Payload != nil && d.PayloadText != nil {
		return model.Message{}, errors.New("set only one of payload and payload_text")
	}
	msg := model.Message{Topic: d.Topic, Payload: d.Payload}
	if d.PayloadText != nil {
		msg.Payload = []byte(*d.PayloadText)
	}
	return msg, nil
}

type decideResponse struct {
	Decision string `json:"decision"`
}

// DecideHandler answers broker hook calls.
type DecideHandler struct {
	deps Dependencies
}

// NewDecideHandler creates a new decide handler.
func NewDecideHandler(deps Dependencies) *DecideHandler {
	return &DecideHandler{deps: deps}
}

// HandleDecide handles POST /decide requests.
func (h *DecideHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	const op = "api.decide"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req decideRequest
	if err := decodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", wrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	msg, err := req.message()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	decision := h.deps.Decide(r.Context(), msg.Topic, msg.Payload)
	writeJSON(w, http.StatusOK, decideResponse{Decision: decision.String()})
}

// decodeRequest reads exactly one JSON object from body into req.
func decodeRequest(body io.Reader, req *decideRequest) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return err
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
	}
	return errTrailingData
}
