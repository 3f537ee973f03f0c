package tree

// Hooks of the lock-free tree, only set by the tests.
var (
	// beforeSuccessorSeekHook is called by Delete with the node of two
	// children, right before it seeks the in-order successor.
	beforeSuccessorSeekHook func(node any)
)
