package errhandler

import (
	"time"

	"authcore/internal/errclass"
)

// Built-in handler ids. Callers may unregister or shadow them with higher
// priorities.
const (
	HandlerAuth    = "builtin-auth"
	HandlerNetwork = "builtin-network"
	HandlerSession = "builtin-session"
	HandlerGeneric = "builtin-generic"
)

func (h *Handler) registerDefaults() {
	h.registrations = append(h.registrations,
		&registered{
			Registration: Registration{
				ID:         HandlerAuth,
				Service:    "*",
				ErrorTypes: []string{string(errclass.TypeAuthentication)},
				Priority:   100,
				Handler:    authHandler,
			},
			seq: h.nextSeq,
		},
		&registered{
			Registration: Registration{
				ID:         HandlerNetwork,
				Service:    "*",
				ErrorTypes: []string{string(errclass.TypeConnectivity), string(errclass.TypeTimeout)},
				Priority:   90,
				Handler:    networkHandler,
			},
			seq: h.nextSeq + 1,
		},
		&registered{
			Registration: Registration{
				ID:         HandlerSession,
				Service:    "session",
				ErrorTypes: []string{"*"},
				Priority:   80,
				Handler:    sessionHandler,
			},
			seq: h.nextSeq + 2,
		},
		&registered{
			Registration: Registration{
				ID:         HandlerGeneric,
				Service:    "*",
				ErrorTypes: []string{"*"},
				Priority:   -100,
				Handler:    genericHandler,
			},
			seq: h.nextSeq + 3,
		},
	)
	h.nextSeq += 4
}

// authHandler covers failures that invalidate the credentials themselves:
// the session cannot be repaired by retrying, only by signing in again.
func authHandler(_ error, classification errclass.Classification, _ Context) HandlerResult {
	return HandlerResult{
		Handled:             true,
		ShouldRetry:         false,
		UserMessage:         classification.UserMessage,
		RequiresReauth:      true,
		RequiresLogout:      true,
		PropagateToServices: []string{"authentication", "session", "storage"},
		RecoveryActions: []RecoveryAction{
			{Type: ActionLogout},
			{Type: ActionRedirect, Target: "login"},
		},
	}
}

func networkHandler(_ error, classification errclass.Classification, _ Context) HandlerResult {
	delay := classification.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	return HandlerResult{
		Handled:     true,
		ShouldRetry: true,
		RetryDelay:  delay,
		UserMessage: classification.UserMessage,
		RecoveryActions: []RecoveryAction{
			{Type: ActionRetryOperation},
		},
	}
}

// sessionHandler treats session-service failures like an auth failure when
// the session is gone, otherwise defers to the classification.
func sessionHandler(err error, classification errclass.Classification, ctx Context) HandlerResult {
	if classification.Type == errclass.TypeAuthentication || !classification.Retryable {
		return authHandler(err, classification, ctx)
	}
	return HandlerResult{
		Handled:             true,
		ShouldRetry:         classification.Retryable,
		RetryDelay:          classification.BaseDelay,
		UserMessage:         classification.UserMessage,
		PropagateToServices: []string{"session"},
	}
}

func genericHandler(_ error, classification errclass.Classification, _ Context) HandlerResult {
	result := HandlerResult{
		Handled:     true,
		ShouldRetry: classification.Retryable,
		UserMessage: classification.UserMessage,
	}
	if classification.Retryable {
		result.RetryDelay = classification.BaseDelay
		result.RecoveryActions = []RecoveryAction{{Type: ActionRetryOperation}}
	}
	return result
}
