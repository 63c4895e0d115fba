package memory

import "github.com/vkngwrapper/core/v2/common"

// CreateFlags exposes options for pool behavior that are chosen when the pool is created
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateSynchronized makes the pool take an internal lock around every operation. Without it,
	// the pool must be externally synchronized: it is meant to be driven from the single thread
	// that also advances frames.
	CreateSynchronized CreateFlags = 1 << iota
)

func init() {
	CreateSynchronized.Register("CreateSynchronized")
}
