package fantasm

// Request is one delivered hop as seen by a transport boundary.
//
// Payload is the serialized execution context of the previous hop. A
// request with neither State nor Event starts a new instance of Machine,
// named Instance (or a generated name) and seeded with the data in Payload.
type Request struct {
	Machine    string
	Instance   string
	State      string
	Event      string
	Payload    []byte
	RetryCount int
	TaskName   string
}
