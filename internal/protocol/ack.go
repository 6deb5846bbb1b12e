package protocol

// AckStatus values for the acknowledgment envelope.
const (
	StatusACK  = "ACK"
	StatusNACK = "NACK"
)

type ackBody struct {
	Status string `json:"status"`
}

type ackMessage struct {
	Ack ackBody `json:"ack"`
}

// AckResponse is the envelope every callback returns on success:
// {"message":{"ack":{"status":"ACK"}}}.
type AckResponse struct {
	Message ackMessage `json:"message"`
}

// NackResponse adds an error block to a negative acknowledgment. Correlation
// failures never block the acknowledgment contract: the network retries
// unacknowledged sends, so anything recorded at all must still ACK.
type NackResponse struct {
	Message ackMessage `json:"message"`
	Error   AckError   `json:"error"`
}

type AckError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewAck() AckResponse {
	return AckResponse{Message: ackMessage{Ack: ackBody{Status: StatusACK}}}
}

func NewNack(errType, code, message string) NackResponse {
	return NackResponse{
		Message: ackMessage{Ack: ackBody{Status: StatusNACK}},
		Error:   AckError{Type: errType, Code: code, Message: message},
	}
}
