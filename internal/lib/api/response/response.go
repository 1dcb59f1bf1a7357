package response

// Response is the common JSON envelope for API replies.
type Response struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

const (
	statusOK      = "ok"
	statusError   = "error"
	statusSent    = "sent"
	statusSkipped = "skipped"
	statusFailed  = "failed"
)

func Ok(data interface{}) Response {
	return Response{Status: statusOK, Data: data}
}

func Error(msg string) Response {
	return Response{Status: statusError, Error: msg}
}

// Sent, Skipped and Failed report a relay outcome in the response body.
// Webhook endpoints fast-ack with 200 and carry the outcome here, since the
// upstream platforms do not implement smart retry-on-5xx.
func Sent(data interface{}) Response {
	return Response{Status: statusSent, Data: data}
}

func Skipped(reason string) Response {
	return Response{Status: statusSkipped, Error: reason}
}

func Failed(msg string) Response {
	return Response{Status: statusFailed, Error: msg}
}
