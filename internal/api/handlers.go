package api

import (
	"errors"
	"net/http"

	"github.com/BTreeMap/PhysioPipe/internal/flow"
	"github.com/BTreeMap/PhysioPipe/internal/messaging"
	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// MessageResult is the result body of POST /message.
type MessageResult struct {
	Message string `json:"message"`
}

// WorkflowRunResult is the result body of POST /workflows/run.
type WorkflowRunResult struct {
	Fired int `json:"fired"`
}

// rootHandler keeps the original liveness body for existing monitors.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"msg": "working"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// messageHandler receives the Twilio WhatsApp webhook.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	log := LoggerFromContext(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	msg, err := messaging.ParseTwilioWebhook(r)
	if err != nil {
		log.Warn("Server.messageHandler: invalid webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid message: From and Body are required"))
		return
	}
	log.Debug("Server.messageHandler: message received", "from", msg.From, "length", len(msg.Body))

	ctx, cancel := s.detach(r.Context())
	defer cancel()
	reply, err := s.engine.HandleIncoming(ctx, msg.From, msg.Body)
	switch {
	case errors.Is(err, flow.ErrInvalidSender), errors.Is(err, flow.ErrEmptyMessage):
		log.Warn("Server.messageHandler: message rejected", "from", msg.From, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid message: From and Body are required"))
		return
	case err != nil:
		log.Error("Server.messageHandler: handling failed", "from", msg.From, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	log.Info("Server.messageHandler: message answered", "from", msg.From)
	writeJSONResponse(w, http.StatusOK, models.Success(MessageResult{Message: reply}))
}

func (s *Server) runWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	log := LoggerFromContext(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx, cancel := s.detach(r.Context())
	defer cancel()
	fired, err := s.engine.RunDueWorkflows(ctx)
	if err != nil {
		log.Error("Server.runWorkflowsHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to run workflows"))
		return
	}
	log.Info("Server.runWorkflowsHandler: sweep finished", "fired", fired)
	writeJSONResponse(w, http.StatusOK, models.Success(WorkflowRunResult{Fired: fired}))
}
