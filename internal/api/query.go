package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/sqlguard"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type translateRequest struct {
	Question string `json:"question"`
}

type askRequest struct {
	Question string `json:"question"`
	RowLimit int    `json:"row_limit"`
	Export   bool   `json:"export"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireAssistant(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	loaded := deps.Assistant.Schema()
	writeJSON(w, http.StatusOK, map[string]any{
		"dialect": loaded.Dialect,
		"tables":  loaded.Tables,
		"text":    deps.Assistant.SchemaText(),
	})
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireAssistant(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req translateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Assistant.Translate(r.Context(), req.Question)
	if err != nil {
		writeAssistantError(deps, w, r, err, map[string]any{"raw": result.Raw})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sql":      result.SQL,
		"provider": result.Provider,
		"model":    result.Model,
	})
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireAssistant(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if req.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must be >= 0", false, nil)
		return
	}

	result, err := deps.Assistant.Execute(r.Context(), req.SQL, req.RowLimit)
	if err != nil {
		writeAssistantError(deps, w, r, err, map[string]any{"sql": req.SQL})
		return
	}
	writeJSON(w, http.StatusOK, resultPayload(result))
}

func handleAsk(deps Dependencies, uploadEnabled bool, w http.ResponseWriter, r *http.Request) {
	if !requireAssistant(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if req.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must be >= 0", false, nil)
		return
	}
	if req.Export {
		if err := requireRole(r, auth.RoleExportWriter); err != nil {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
			return
		}
		if deps.Exporter == nil || !uploadEnabled {
			writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
			return
		}
	}

	answer, err := deps.Assistant.Ask(r.Context(), req.Question, req.RowLimit)
	if err != nil {
		writeAssistantError(deps, w, r, err, map[string]any{"sql": answer.SQL})
		return
	}

	payload := resultPayload(answer.Result)
	payload["question"] = answer.Question
	payload["sql"] = answer.SQL
	payload["provider"] = answer.Provider
	payload["model"] = answer.Model

	if req.Export {
		output, err := deps.Exporter.Export(r.Context(), answer.Result, export.Target{Upload: true})
		if err != nil {
			writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to export result", true, map[string]any{"details": err.Error(), "sql": answer.SQL})
			return
		}
		payload["export"] = output
	}
	writeJSON(w, http.StatusOK, payload)
}

func resultPayload(result query.Result) map[string]any {
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return map[string]any{
		"columns":     result.Columns,
		"rows":        rows,
		"row_count":   len(rows),
		"duration_ms": result.Duration.Milliseconds(),
	}
}

// writeAssistantError maps a pipeline failure to a status code by the stage
// that produced it.
func writeAssistantError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	ctx := r.Context()
	details := map[string]any{"details": err.Error()}
	for key, value := range extra {
		if value != "" {
			details[key] = value
		}
	}

	switch {
	case errors.Is(err, nl2sql.ErrNoSQL):
		writeError(ctx, w, http.StatusUnprocessableEntity, "NO_SQL_IN_RESPONSE", "model response did not contain a SQL statement", true, details)
		return
	case errors.Is(err, assistant.ErrTranslatorUnavailable):
		writeError(ctx, w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	case errors.Is(err, sqlguard.ErrNotReadOnly):
		writeError(ctx, w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT/WITH queries are allowed", false, details)
		return
	}

	switch assistant.StageOf(err) {
	case assistant.StageTranslate:
		writeError(ctx, w, http.StatusBadGateway, "TRANSLATE_FAILED", "failed to translate question", true, details)
	case assistant.StageExecute:
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "failed to execute query", false, details)
	default:
		if deps.Logger != nil {
			deps.Logger.ErrorContext(ctx, "unexpected assistant failure", "error", err)
		}
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
	}
}

func requireAssistant(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant dependency is not configured", false, nil)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
