package mqtt

// FakeClient records published events for test assertions and lets tests
// inject inbound duty commands.
type FakeClient struct {
	// Acks contains all duty acknowledgements that were published.
	Acks []DutyAck

	// AckPayloads contains the JSON payloads for acks.
	AckPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishAckError, if set, will be returned by PublishAck.
	PublishAckError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	handler CommandHandler
}

// NewFakeClient creates a FakeClient for testing. The handler receives
// commands injected with InjectDutyCommand.
func NewFakeClient(handler CommandHandler) *FakeClient {
	return &FakeClient{handler: handler}
}

// InjectDutyCommand simulates an inbound duty-set message.
// Returns the parse error, if any, for assertions.
func (f *FakeClient) InjectDutyCommand(payload []byte) error {
	v, err := ParseDutyCommand(payload)
	if err != nil {
		return err
	}
	if f.handler != nil {
		f.handler(v)
	}
	return nil
}

// PublishAck records the acknowledgement.
func (f *FakeClient) PublishAck(ack DutyAck) error {
	if f.PublishAckError != nil {
		return f.PublishAckError
	}

	f.Acks = append(f.Acks, ack)

	payload, err := FormatAckPayload(ack)
	if err != nil {
		return err
	}
	f.AckPayloads = append(f.AckPayloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakeClient) Reset() {
	f.Acks = nil
	f.AckPayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishAckError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
