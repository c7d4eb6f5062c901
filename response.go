package chigate

import "net/http"

// SetError sets an error response in the request context.
// If Handler is not installed (state is nil), this is a no-op.
// Use HasState() to check if Handler is active.
func SetError(r *http.Request, err *APIError) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.err = err
}

// SetResponse sets a success response in the request context.
// If Handler is not installed (state is nil), this is a no-op.
func SetResponse(r *http.Request, status int, body any) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status = status
	state.body = body
}

// SetHeader sets a response header that Handler writes with the error or body.
// If Handler is not installed (state is nil), this is a no-op.
func SetHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Set(key, value)
}

// reject renders err through Handler when it is installed, and as plain text otherwise.
func reject(w http.ResponseWriter, r *http.Request, err *APIError) {
	if HasState(r.Context()) {
		SetError(r, err)
		return
	}
	http.Error(w, err.Message, err.Status)
}
