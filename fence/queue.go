package fence

// Queue identifies one of the device queues that work is submitted to
type Queue int32

const (
	QueueGraphic Queue = iota
	QueueCompute
	QueueTransfer
	QueuePresent

	queueCount
)

var queueMapping = map[Queue]string{
	QueueGraphic:  "Graphic",
	QueueCompute:  "Compute",
	QueueTransfer: "Transfer",
	QueuePresent:  "Present",
}

func (q Queue) String() string {
	str, ok := queueMapping[q]
	if !ok {
		return "Unknown"
	}
	return str
}

func (q Queue) IsValid() bool {
	return q >= 0 && q < queueCount
}

// Queues lists every queue in submission priority order
func Queues() []Queue {
	return []Queue{QueueGraphic, QueueCompute, QueueTransfer, QueuePresent}
}
