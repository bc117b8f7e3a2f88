package queue

// Message is one accepted payload. Its content never changes after creation.
type Message struct {
	data []byte
}

// NewMessage takes ownership of buf. Callers must not touch buf afterwards.
func NewMessage(buf []byte) *Message {
	return &Message{data: buf}
}

// Len returns the stored size in bytes.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.data)
}

// Bytes exposes the stored payload. The slice is read-only.
func (m *Message) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Prefix returns at most n leading bytes of the payload.
func (m *Message) Prefix(n int) []byte {
	if m == nil || n <= 0 {
		return nil
	}
	if n > len(m.data) {
		n = len(m.data)
	}
	return m.data[:n]
}

// Release drops the payload reference once it has been handed to a caller.
func (m *Message) Release() {
	if m == nil {
		return
	}
	m.data = nil
}
