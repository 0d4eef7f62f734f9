package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/csvqa/csvqa/internal/chat"
)

type chatRequest struct {
	Message string `json:"message"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

var chatErrorCodes = map[chat.Kind]struct {
	status int
	code   string
}{
	chat.KindInputEmpty:               {http.StatusBadRequest, "EMPTY_MESSAGE"},
	chat.KindPlanUnavailable:          {http.StatusTooManyRequests, "PLAN_UNAVAILABLE"},
	chat.KindValidationRejected:       {http.StatusBadRequest, "SQL_REJECTED"},
	chat.KindExecutionFailed:          {http.StatusBadRequest, "QUERY_FAILED"},
	chat.KindRepairValidationRejected: {http.StatusBadRequest, "SQL_REJECTED_AFTER_REPAIR"},
	chat.KindRepairUnavailable:        {http.StatusTooManyRequests, "REPAIR_UNAVAILABLE"},
	chat.KindRepairExecutionFailed:    {http.StatusBadRequest, "QUERY_FAILED_AFTER_REPAIR"},
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat is not configured", false, nil)
		return
	}

	var request chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	refreshDataset(deps, r)

	response, err := deps.Chat.Answer(r.Context(), chat.Request{
		Message: request.Message,
		Limit:   request.Limit,
		Offset:  request.Offset,
	})
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	chatErr, ok := chat.AsError(err)
	if !ok {
		writeEngineError(r.Context(), w, "CHAT_FAILED", "chat request failed", err)
		return
	}
	mapping, known := chatErrorCodes[chatErr.Kind]
	if !known {
		mapping.status, mapping.code = http.StatusBadRequest, "CHAT_REJECTED"
	}

	extra := map[string]any{"state": chatErr.State}
	if chatErr.Issues != nil {
		extra["issues"] = chatErr.Issues
	}
	if chatErr.SQL != "" {
		extra["sql"] = chatErr.SQL
	}
	if chatErr.EngineError != "" {
		extra["error"] = chatErr.EngineError
	}
	if chatErr.RepairEngineError != "" {
		extra["repair_error"] = chatErr.RepairEngineError
	}
	writeError(r.Context(), w, mapping.status, mapping.code, chatErr.Message, chatErr.Retryable(), extra)
}
