// Package worker runs auxiliary execution contexts and tracks their
// lifecycle.
//
// A worker is a goroutine with its own harness state. It talks to the
// spawning context only through messages: the parent posts one ToWorker
// carrying the shared memories the worker may see, and the worker answers
// with FromWorker messages ("failed" per failed assertion, then "done").
// FromWorker messages cross the boundary JSON encoded.
//
// Each spawned worker has a Record whose state only moves forward:
//
//	spawned -> running -> done | failed | terminated
//	spawned -> done | failed | terminated
//
// The first terminal state wins. Terminal records close a channel exactly
// once, which is what Wait blocks on.
package worker
