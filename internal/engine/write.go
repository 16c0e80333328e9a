package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reportlens/internal/logging"
	"reportlens/internal/memory"
	"reportlens/internal/types"
)

const (
	writeReaskText     = "Write draft is pending. Please confirm or cancel."
	writeDisabledText  = "Write-actions are disabled in this environment. Please ask an administrator to enable them."
	writeDuplicateText = "This write action was already executed (idempotency guard)."
	writeFailedText    = "Write execution failed safely. Draft remains pending."
	writeDoneText      = "Write action executed successfully."
	writeCancelText    = "Write action cancelled."
	writeUnclearText   = "Please provide the target document and action clearly before confirm/cancel."
)

var (
	confirmWords = []string{"confirm", "yes", "proceed", "approve", "execute", "do it", "ok", "okay"}
	cancelWords  = []string{"cancel", "no", "stop", "abort", "discard"}
)

func containsWord(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// resolveWriteConfirmation settles a pending draft. Cancel is checked before
// confirm so "no, cancel" never executes.
func (e *Engine) resolveWriteConfirmation(ctx context.Context, sessionID string, rec *memory.SessionRecord, msg string) *types.Payload {
	draft := rec.Pending.WriteDraft
	decision := strings.ToLower(strings.TrimSpace(msg))

	if draft == nil {
		payload := types.TextPayload(writeUnclearText)
		payload.ClearPending = true
		return payload
	}

	switch {
	case containsWord(decision, cancelWords):
		logging.Engine("write cancelled doctype=%s op=%s", draft.Doctype, draft.Operation)
		payload := types.TextPayload(writeCancelText)
		payload.ClearPending = true
		return payload

	case containsWord(decision, confirmWords):
		return e.executeWriteDraft(ctx, sessionID, rec, draft)

	default:
		payload := types.TextPayload(writeReaskText)
		payload.Pending = rec.Pending
		return payload
	}
}

func (e *Engine) executeWriteDraft(ctx context.Context, sessionID string, rec *memory.SessionRecord, draft *types.WriteDraft) *types.Payload {
	if !e.cfg.Engine.WritesEnabled || e.writer == nil {
		payload := types.TextPayload(writeDisabledText)
		payload.ClearPending = true
		return payload
	}

	fresh, err := e.sessions.MarkWriteExecuted(sessionID, draft.IdempotencyKey)
	if err != nil {
		logging.Engine("idempotency check failed: %v", err)
		payload := types.TextPayload(writeFailedText)
		payload.Pending = rec.Pending
		return payload
	}
	if !fresh {
		logging.Engine("write rejected by idempotency guard key=%s", draft.IdempotencyKey)
		payload := types.TextPayload(writeDuplicateText)
		payload.ClearPending = true
		return payload
	}

	result, err := e.writer.Apply(ctx, draft)
	if err != nil {
		logging.Engine("write execution failed: %v", err)
		payload := types.TextPayload(writeFailedText)
		payload.Pending = rec.Pending
		return payload
	}

	logging.Engine("write executed doctype=%s op=%s name=%s", draft.Doctype, draft.Operation, result["name"])
	payload := types.TextPayload(writeDoneText)
	payload.ClearPending = true
	payload.WriteResult = result
	return payload
}

// handleWriteIntent builds a draft for an explicit write request and parks it
// behind a confirmation. Delete drafts are produced even when writes are
// disabled so the refusal happens at confirm time with full context.
func (e *Engine) handleWriteIntent(ctx context.Context, sessionID string, rec *memory.SessionRecord, raw string) *types.Payload {
	wr := e.ont.InferWriteRequest(raw)

	if wr.Intent == types.IntentWriteConfirm {
		// Bare confirm/cancel with nothing pending.
		return types.TextPayload(writeUnclearText)
	}
	if wr.Operation == "" || wr.Doctype == "" {
		return types.TextPayload(writeUnclearText)
	}
	if !e.cfg.Engine.WritesEnabled && wr.Operation != "delete" {
		return types.TextPayload(writeDisabledText)
	}

	docPayload := map[string]string{}
	switch wr.Operation {
	case "create":
		docPayload["description"] = strings.TrimSpace(raw)
		if strings.EqualFold(wr.Doctype, "ToDo") {
			docPayload["status"] = "Open"
		}
	case "update", "delete":
		if wr.DocumentID == "" {
			return types.TextPayload(writeUnclearText)
		}
		docPayload["name"] = wr.DocumentID
	default:
		return types.TextPayload(writeUnclearText)
	}

	draft := &types.WriteDraft{
		Doctype:        wr.Doctype,
		Operation:      wr.Operation,
		Payload:        docPayload,
		Summary:        fmt.Sprintf("%s %s", wr.Operation, wr.Doctype),
		RequestedBy:    sessionID,
		IdempotencyKey: uuid.NewString(),
	}

	question := fmt.Sprintf("Confirm %s %s? Reply **confirm** to execute or **cancel** to stop.", wr.Operation, wr.Doctype)
	if wr.DocumentID != "" {
		question = fmt.Sprintf("Confirm %s %s %s? Reply **confirm** to execute or **cancel** to stop.", wr.Operation, wr.Doctype, wr.DocumentID)
	}

	logging.Engine("write draft doctype=%s op=%s doc=%s", draft.Doctype, draft.Operation, wr.DocumentID)
	payload := types.TextPayload(question)
	payload.Pending = &types.PendingState{
		Mode:       types.PendingWriteConfirm,
		Question:   question,
		Reason:     "write_confirmation",
		WriteDraft: draft,
	}
	return payload
}
