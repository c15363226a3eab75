package services

import "context"

// Action is a tool invocation produced by interpretation and pending
// user confirmation.
type Action struct {
	ID     string         `json:"id"`
	Params map[string]any `json:"params,omitempty"`
}

// Interpretation is the interpreter's reading of one transcript. When
// ConfirmText is set the action must be confirmed before execution;
// otherwise Content is a direct answer to speak.
type Interpretation struct {
	ConfirmText string  `json:"confirmText,omitempty"`
	Action      *Action `json:"action,omitempty"`
	Content     string  `json:"content,omitempty"`
}

// NeedsConfirmation reports whether the interpretation carries an action
// awaiting user approval.
func (i Interpretation) NeedsConfirmation() bool {
	return i.Action != nil && i.ConfirmText != ""
}

// ExecutionResult is the outcome of running a confirmed action.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Interpreter turns a transcript into an interpretation.
type Interpreter interface {
	Interpret(ctx context.Context, text, sessionID, userID string) (Interpretation, error)
}

// Executor runs a confirmed action.
type Executor interface {
	Execute(ctx context.Context, action Action, sessionID, userID string) (ExecutionResult, error)
}
