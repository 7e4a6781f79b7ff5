package domain

// CommandQueue is the single ordered queue between callers and the consumer.
type CommandQueue interface {
	Enqueue(req CommandRequest) string
	Drop(id string) bool
	Len() int
	SendReply(reply Reply)
	OnReply(channelName string, handler func(Reply))
	Close()
}
