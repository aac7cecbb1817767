package consts

type OutboxStatus int

const (
	NotProcessed OutboxStatus = iota
	Processing
	Processed
	InError
)
