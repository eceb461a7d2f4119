package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame renders one server-sent event. The id is the event's millisecond
// timestamp so clients can resume ordering after a reconnect. The payload is
// encoded without HTML escaping: generated code full of <, >, and & must
// arrive byte-exact.
func Frame(id int64, event string, payload any) ([]byte, error) {
	var data bytes.Buffer
	enc := json.NewEncoder(&data)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "id: %d\n", id)
	fmt.Fprintf(&b, "event: %s\n", event)
	b.WriteString("data: ")
	b.Write(bytes.TrimRight(data.Bytes(), "\n"))
	b.WriteString("\n\n")
	return b.Bytes(), nil
}
