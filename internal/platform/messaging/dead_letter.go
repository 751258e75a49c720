package messaging

// DeadLetter is a consumed message the worker gave up on, with its origin so it can be replayed
type DeadLetter struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Reason    string
}
