package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"branchdown/internal/engine"
	"branchdown/internal/model"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Store is the engine surface the HTTP layer needs.
type Store interface {
	CreateStream() (model.Stream, error)
	GetStream(streamID int64) (model.Stream, error)
	DeleteStream(streamID int64) error
	GetStreamPoints(streamID int64) ([]model.Point, error)
	GetBranchPoints(streamID int64, branchNum, depthFilter int) ([]model.Point, error)
	AddPoint(parentID int64, itemID string) (model.Point, error)
	GetAncestors(pointID int64) ([]model.Point, error)
}

// DownRequest is the body of POST /api/points/{pointId}/down.
type DownRequest struct {
	ItemID string `json:"itemId" validate:"required"`
}

const maxBodyBytes = 1 << 20

type handlers struct {
	store    Store
	log      *zap.Logger
	validate *validator.Validate
}

func (h *handlers) createStream(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.CreateStream()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, s)
}

func (h *handlers) getStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "getStream", "streamId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	s, err := h.store.GetStream(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, s)
}

func (h *handlers) deleteStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "deleteStream", "streamId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.store.DeleteStream(id); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (h *handlers) getStreamPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "getStreamPoints", "streamId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	points, err := h.store.GetStreamPoints(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, points)
}

func (h *handlers) getBranchPoints(w http.ResponseWriter, r *http.Request) {
	const op = "getBranchPoints"
	id, err := pathID(r, op, "streamId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	branch, err := pathInt(r, op, "branchNum")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	depth, err := depthFilter(r, op)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	points, err := h.store.GetBranchPoints(id, branch, depth)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, points)
}

func (h *handlers) addPoint(w http.ResponseWriter, r *http.Request) {
	const op = "addPoint"
	parentID, err := pathID(r, op, "pointId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req DownRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.log, badParam(op, "request body", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.log, &engine.Error{Kind: engine.KindInvalidArgument, Op: op, Msg: "itemId is required", Err: err})
		return
	}

	p, err := h.store.AddPoint(parentID, req.ItemID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, p)
}

func (h *handlers) getAncestors(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "getAncestors", "pointId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	points, err := h.store.GetAncestors(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, points)
}
