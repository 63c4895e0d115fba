package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/foundry/fence"
	"github.com/vkngwrapper/foundry/framegraph"
)

// Backend submits recorded work to device queues. Once the device has finished a submission, the
// backend signals its stamp on the renderer's fence.Timeline, usually from another goroutine.
type Backend interface {
	EnqueueCommands(queue fence.Queue, stamp uint64, commands framegraph.CommandList) error
}

// QueueFor returns the queue that passes of kind are submitted to
func QueueFor(kind framegraph.Kind) (fence.Queue, error) {
	switch kind {
	case framegraph.KindGraphic:
		return fence.QueueGraphic, nil
	case framegraph.KindCompute:
		return fence.QueueCompute, nil
	case framegraph.KindTransfer:
		return fence.QueueTransfer, nil
	}
	return 0, errors.Newf("no queue for pass kind %s", kind)
}
