package supplier

// targetSchema is the CUE schema every incoming target document must satisfy
// before any of it reaches an engine. Definitions are closed, so a document
// carrying unknown fields is rejected rather than silently accepted.
const targetSchema = `
#Register: {
	// Name identifies the reading (e.g. "temperature").
	name: string & !=""

	// Address is the first holding register of the range.
	address: int & >=0 & <=65535

	// Count is the number of registers to read.
	count?: int & >=1 & <=125

	// Scale converts the raw integer to engineering units.
	scale?: number

	// Unit is the engineering unit label.
	unit?: string
}

#Sensor: {
	id:       string & =~"^[a-zA-Z0-9_-]+$"
	host:     string & !=""
	port?:    int & >=1 & <=65535
	unit_id?: int & >=0 & <=247
	labels?: {[string]: string}
	registers: [#Register, ...#Register]
	poll_interval?: string
}

#Port: {
	host:      int & >=1 & <=65535
	container: int & >=1 & <=65535
	protocol?: "tcp" | "udp"
}

#Container: {
	id:    string & =~"^[a-zA-Z0-9_-]+$"
	image: string & !=""
	env?: {[string]: string}
	ports?: [...#Port]
	volumes?: [...string]
	command?: [...string]
	restart?:    "no" | "always" | "unless-stopped" | "on-failure"
	privileged?: bool
	labels?: {[string]: string}
}

#Document: {
	version: 1
	sensors?: [...#Sensor]
	containers?: [...#Container]
}
`
