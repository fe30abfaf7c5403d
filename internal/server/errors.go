package server

// errorKind classifies a pipeline failure so each protocol front can map
// it to its own wire shape.
type errorKind int

const (
	kindAuth errorKind = iota
	kindPermission
	kindValidation
	kindNotFound
	kindUnavailable
	kindRateLimit
	kindExecution
)

type apiError struct {
	kind    errorKind
	message string
}

func (e *apiError) Error() string { return e.message }

func (e *apiError) httpStatus() int {
	switch e.kind {
	case kindAuth:
		return 401
	case kindPermission:
		return 403
	case kindValidation, kindNotFound:
		return 400
	case kindRateLimit:
		return 429
	case kindUnavailable:
		return 503
	default:
		return 500
	}
}
