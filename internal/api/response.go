package api

// Response is the envelope returned by routing calls over any transport.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// OK wraps data in a success response.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Fail wraps an error in a failure response. Uncoded errors are reported as
// SendMessageFailed so that a machine-readable code is always present.
func Fail(err error) Response {
	coded := AsError(err)
	if coded == nil {
		coded = New(CodeSendMessageFailed, err.Error())
	}
	return Response{Success: false, Error: coded}
}
