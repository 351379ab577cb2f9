package hci

// Command is an HCI command the host submits to the controller.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}
